// data_handler.go
package email

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"AccuracyCoverage/src/config"
	"AccuracyCoverage/src/datasource/file"
	"AccuracyCoverage/src/processor"
	"AccuracyCoverage/src/storage"
)

// DataLoader 把邮件附件中的数据表装入分析管线。
// 附件按文件名关键字识别为精度表或覆盖表，识别不了的跳过
type DataLoader struct {
	analyzer *processor.Analyzer
	dcfg     *config.DataConfig
	logger   *storage.Logger
}

func NewDataLoader(analyzer *processor.Analyzer, dcfg *config.DataConfig, logger *storage.Logger) *DataLoader {
	return &DataLoader{
		analyzer: analyzer,
		dcfg:     dcfg,
		logger:   logger,
	}
}

// classify 按附件名关键字判断数据源类别，返回 accuracy/coverage/空串
func (l *DataLoader) classify(filename string) string {
	switch {
	case strings.Contains(filename, l.dcfg.AccuracyKeyword):
		return "accuracy"
	case strings.Contains(filename, l.dcfg.CoverageKeyword):
		return "coverage"
	default:
		return ""
	}
}

// LoadAttachment 解析单个附件并装入管线
func (l *DataLoader) LoadAttachment(att *Attachment) error {
	source := l.classify(att.Filename)
	if source == "" {
		l.logger.Info(fmt.Sprintf("附件 %s 未匹配任何数据源关键字，跳过", att.Filename))
		return nil
	}

	df, err := l.parse(att, source)
	if err != nil {
		return err
	}

	hash := processor.ContentHash(att.Content)
	if source == "accuracy" {
		err = l.analyzer.LoadAccuracy(df, hash)
	} else {
		err = l.analyzer.LoadCoverage(df, hash)
	}
	if err != nil {
		return fmt.Errorf("装入 %s 数据失败: %w", source, err)
	}

	l.logger.Info(fmt.Sprintf("附件 %s 已装入 %s 数据源, 共 %d 行", att.Filename, source, df.Nrow()))
	return nil
}

// LoadEmail 依次处理目标邮件的全部附件，返回成功装入的附件数
func (l *DataLoader) LoadEmail(email *Email) (int, error) {
	loaded := 0
	for _, att := range email.Attachments {
		if err := l.LoadAttachment(att); err != nil {
			l.logger.Error(err.Error())
			continue
		}
		if l.classify(att.Filename) != "" {
			loaded++
		}
	}
	if loaded == 0 {
		return 0, fmt.Errorf("邮件 %s 没有可识别的数据附件", email.Subject)
	}
	return loaded, nil
}

func (l *DataLoader) parse(att *Attachment, source string) (dataframe.DataFrame, error) {
	isXLSX := strings.EqualFold(filepath.Ext(att.Filename), ".xlsx")
	switch {
	case source == "accuracy" && isXLSX:
		return file.ReadAccuracyXLSX(att.Content, l.dcfg.SheetName)
	case source == "accuracy":
		return file.ReadAccuracyCSV(att.Content)
	case isXLSX:
		return file.ReadCoverageXLSX(att.Content, l.dcfg.SheetName)
	default:
		return file.ReadCoverageCSV(att.Content)
	}
}
