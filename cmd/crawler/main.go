package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/attachcrawler/src/server"
)

func main() {

	app := cli.NewApp()

	app.Name = "crawler"
	app.Version = "0.2.0"
	app.Description = "帖子附件批量下载"
	app.Flags = server.Flags()

	s := server.NewServer()
	app.Action = s.Start

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
