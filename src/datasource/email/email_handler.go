// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ====================== 邮件处理器实现 ======================

// AttachmentSaver 把目标邮件中的数据附件落盘到数据目录，
// 同一封邮件按UID只处理一次
type AttachmentSaver struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	loader        *DataLoader     // 附件解析与装入
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentSaver(subject, dataDir string, loader *DataLoader) *AttachmentSaver {
	return &AttachmentSaver{
		TargetSubject: subject,
		DataDir:       dataDir,
		loader:        loader,
		processedUIDs: make(map[uint32]bool), // 初始化映射
	}
}

// isProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentSaver) isProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *AttachmentSaver) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 处理单个邮件：识别数据附件、落盘并装入管线
func (h *AttachmentSaver) Handle(email *Email) error {
	// 检查是否已处理过该邮件
	if h.isProcessed(email.UID) {
		return nil
	}

	// 检查邮件主题是否包含目标关键词
	if !strings.Contains(email.Subject, h.TargetSubject) {
		return nil
	}

	// 确保保存目录存在
	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %v", err)
	}

	// 处理附件
	hasData := false
	for _, attachment := range email.Attachments {
		ext := strings.ToLower(filepath.Ext(attachment.Filename))
		if ext != ".xlsx" && ext != ".csv" {
			continue
		}

		// 落盘一份供目录监控与回溯
		filePath := filepath.Join(h.DataDir, attachment.Filename)
		if err := os.WriteFile(filePath, attachment.Content, 0644); err != nil {
			return fmt.Errorf("保存附件失败: %v", err)
		}

		// 直接装入管线，不等目录监控回调
		if err := h.loader.LoadAttachment(attachment); err != nil {
			return err
		}
		hasData = true
	}

	// 有数据附件才标记为已处理
	if hasData {
		h.markAsProcessed(email.UID)
	}

	return nil
}
