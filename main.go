package main

import (
	"fmt"

	"github.com/channelstream/channelstream/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
