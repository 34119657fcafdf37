package datapush

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"AccuracyCoverage/src/processor"
)

// 常量定义
const (
	RETRY_TIMES    = 5
	RETRY_INTERVAL = 2 * time.Second
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Pusher 通过钉钉群机器人webhook推送分析摘要
type Pusher struct {
	webhook string
	client  *http.Client
}

func NewPusher(webhook string) *Pusher {
	return &Pusher{
		webhook: webhook,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// PushCorrelation 推送一轮分析的相关性摘要
func (p *Pusher) PushCorrelation(res processor.CorrelationResult) error {
	text := buildMarkdown(res)
	return retry(func() error {
		return p.sendMarkdown("预测精度与数据覆盖分析", text)
	}, RETRY_TIMES, RETRY_INTERVAL)
}

// buildMarkdown 组装机器人markdown消息正文
func buildMarkdown(res processor.CorrelationResult) string {
	summary := processor.BandText(res)
	if !res.Defined {
		return fmt.Sprintf("### 预测精度与数据覆盖分析\n\n- 样本数: %d\n- %s\n", res.N, summary)
	}
	return fmt.Sprintf("### 预测精度与数据覆盖分析\n\n- 样本数: %d\n- 相关系数: %.4f\n- %s\n",
		res.N, res.Value, summary)
}

// sendMarkdown 调用机器人webhook发送markdown消息
func (p *Pusher) sendMarkdown(title, text string) error {
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %v", err)
	}

	req, err := http.NewRequest("POST", p.webhook, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %v", err)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}

	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败: %s", result.ErrMsg)
	}

	return nil
}

// 重试函数
func retry(fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %v", times, err)
}
