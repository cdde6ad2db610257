package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// 同一会话内按发现顺序分配文件名
// 第一个拿到名字的保留原名，之后的依次为<stem>_1<ext>、<stem>_2<ext>...
type namer struct {
	used map[string]int
}

func newNamer() *namer {
	return &namer{used: make(map[string]int)}
}

func (n *namer) assign(name string) string {
	if _, ok := n.used[name]; !ok {
		n.used[name] = 0
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		n.used[name]++
		candidate := fmt.Sprintf("%s_%d%s", stem, n.used[name], ext)
		if _, taken := n.used[candidate]; !taken {
			n.used[candidate] = 0
			return candidate
		}
	}
}
