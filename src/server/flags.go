package server

import (
	"gopkg.in/urfave/cli.v1"
)

func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "配置文件，为空时只读取环境变量",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "环境变量文件",
			Value: ".env",
		},
		cli.StringFlag{
			Name:  "url,u",
			Usage: "起始页面",
		},
		cli.StringFlag{
			Name:  "base-url",
			Usage: "解析相对链接的基础地址，缺省为起始页面的scheme://host",
		},
		cli.StringFlag{
			Name:  "dest,d",
			Usage: "下载目录",
		},
		cli.IntFlag{
			Name:  "concurrency",
			Usage: "同时进行的下载数",
		},
		cli.IntFlag{
			Name:  "retries",
			Usage: "每个请求的最大尝试次数",
		},
		cli.DurationFlag{
			Name:  "delay",
			Usage: "请求之间的间隔",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "单个请求的超时时间",
		},
		cli.StringFlag{
			Name:  "proxy",
			Usage: "代理，scheme://host:port",
		},
		cli.StringFlag{
			Name:  "links-file",
			Usage: "帖子链接列表文件",
		},
		cli.BoolFlag{
			Name:  "from-links",
			Usage: "跳过分页，从帖子链接列表文件开始",
		},
		cli.StringFlag{
			Name:  "metrics-listen",
			Usage: "prometheus /metrics 监听地址",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "日志级别",
		},
	}
}
