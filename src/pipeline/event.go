package pipeline

import (
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/controller"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventDone     EventType = "done"
)

// 发给展示层的事件
// progress: Filename/Percent/Written/Total
// log: Level/Message
// done: Message/Report
type Event struct {
	Type     EventType
	Filename string
	Percent  int
	Written  int64
	Total    int64
	Level    log.Level
	Message  string
	Report   *controller.Report
}

// total未知时为0
func Percent(written, total int64) int {
	if total <= 0 {
		return 0
	}
	if written >= total {
		return 100
	}
	return int(written * 100 / total)
}
