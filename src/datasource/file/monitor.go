// monitor.go
package file

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SourceMonitor 监控数据目录，按文件名关键字把新写入的数据文件
// 路由为精度源或覆盖源
type SourceMonitor struct {
	watchDir   string
	accKeyword string
	covKeyword string
	watcher    *fsnotify.Watcher
	lastMod    map[string]time.Time
	mu         sync.Mutex
}

func NewSourceMonitor(dir, accKeyword, covKeyword string) (*SourceMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &SourceMonitor{
		watchDir:   dir,
		accKeyword: accKeyword,
		covKeyword: covKeyword,
		watcher:    watcher,
		lastMod:    make(map[string]time.Time),
	}, nil
}

// ClassifySource 按文件名关键字判断数据源类别，返回 accuracy/coverage，
// 不匹配时返回空串
func ClassifySource(name, accKeyword, covKeyword string) string {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".csv" && ext != ".xlsx" {
		return ""
	}

	switch {
	case strings.Contains(base, accKeyword):
		return "accuracy"
	case strings.Contains(base, covKeyword):
		return "coverage"
	default:
		return ""
	}
}

func (m *SourceMonitor) Classify(name string) string {
	return ClassifySource(name, m.accKeyword, m.covKeyword)
}

// Watch 阻塞监听写入事件，handler 收到 (文件路径, 数据源类别)。
// 同一文件重复写入按修改时间去重
func (m *SourceMonitor) Watch(handler func(path, source string)) error {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}

			source := m.Classify(event.Name)
			if source == "" {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}

			m.mu.Lock()
			if info.ModTime().After(m.lastMod[event.Name]) {
				m.lastMod[event.Name] = info.ModTime()
				go handler(event.Name, source)
			}
			m.mu.Unlock()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// Close 停止监听
func (m *SourceMonitor) Close() error {
	return m.watcher.Close()
}
