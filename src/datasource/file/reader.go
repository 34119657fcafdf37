// reader.go
package file

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"

	"AccuracyCoverage/src/processor"
)

// ParseError 输入源解析失败。解析失败是致命的：整轮分析中止，
// 不产生任何部分结果
type ParseError struct {
	Source string // accuracy / coverage
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析 %s 数据源失败: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// 两份数据源的列类型，键列强制字符串避免线路号被推断成整数
var (
	accuracyTypes = map[string]series.Type{
		processor.ColRouteID:          series.String,
		processor.ColTimePeriod:       series.String,
		processor.ColTimeBucket:       series.String,
		processor.ColAccuratePct:      series.Float,
		processor.ColEarlyPct:         series.Float,
		processor.ColLatePct:          series.Float,
		processor.ColTotalPredictions: series.Int,
	}
	coverageTypes = map[string]series.Type{
		processor.ColRoute:            series.String,
		processor.ColTimePeriod:       series.String,
		processor.ColFractionTracked:  series.Float,
		processor.ColFractionMissing:  series.Float,
	}
)

// ReadAccuracyCSV 解析精度表CSV
func ReadAccuracyCSV(data []byte) (dataframe.DataFrame, error) {
	return readCSV(data, "accuracy", accuracyTypes, processor.AccuracyRequiredColumns)
}

// ReadCoverageCSV 解析覆盖表CSV
func ReadCoverageCSV(data []byte) (dataframe.DataFrame, error) {
	return readCSV(data, "coverage", coverageTypes, processor.CoverageRequiredColumns)
}

// ReadAccuracyXLSX 解析精度表xlsx，sheetName为空时取第一个工作表
func ReadAccuracyXLSX(data []byte, sheetName string) (dataframe.DataFrame, error) {
	return readXLSX(data, sheetName, "accuracy", accuracyTypes, processor.AccuracyRequiredColumns)
}

// ReadCoverageXLSX 解析覆盖表xlsx
func ReadCoverageXLSX(data []byte, sheetName string) (dataframe.DataFrame, error) {
	return readXLSX(data, sheetName, "coverage", coverageTypes, processor.CoverageRequiredColumns)
}

// ReadSourceFile 按扩展名读取磁盘上的数据源文件
func ReadSourceFile(path, source, sheetName string) (dataframe.DataFrame, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dataframe.New(), nil, fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}

	var df dataframe.DataFrame
	isXLSX := strings.EqualFold(filepath.Ext(path), ".xlsx")
	switch {
	case source == "accuracy" && isXLSX:
		df, err = ReadAccuracyXLSX(data, sheetName)
	case source == "accuracy":
		df, err = ReadAccuracyCSV(data)
	case isXLSX:
		df, err = ReadCoverageXLSX(data, sheetName)
	default:
		df, err = ReadCoverageCSV(data)
	}
	if err != nil {
		return dataframe.New(), nil, err
	}
	return df, data, nil
}

func readCSV(data []byte, source string, types map[string]series.Type, required []string) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(
		bytes.NewReader(data),
		dataframe.HasHeader(true),
		dataframe.WithTypes(types),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df, &ParseError{Source: source, Err: df.Err}
	}

	return validate(df, source, required)
}

func readXLSX(data []byte, sheetName, source string, types map[string]series.Type, required []string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.New(), &ParseError{Source: source, Err: err}
	}
	if len(xlFile.Sheets) == 0 {
		return dataframe.New(), &ParseError{Source: source, Err: fmt.Errorf("excel文件中没有工作表")}
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		named, ok := xlFile.Sheet[sheetName]
		if !ok {
			return dataframe.New(), &ParseError{Source: source, Err: fmt.Errorf("工作表 %s 不存在", sheetName)}
		}
		sheet = named
	}

	records, err := sheetToRecords(sheet)
	if err != nil {
		return dataframe.New(), &ParseError{Source: source, Err: err}
	}

	df := dataframe.LoadRecords(
		records,
		dataframe.HasHeader(true),
		dataframe.WithTypes(types),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df, &ParseError{Source: source, Err: df.Err}
	}

	return validate(df, source, required)
}

// sheetToRecords 将xlsx.Sheet转为记录切片，首行为标题行
func sheetToRecords(sheet *xlsx.Sheet) ([][]string, error) {
	if len(sheet.Rows) < 1 {
		return nil, fmt.Errorf("工作表为空")
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, cell.Value)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("标题行为空")
	}

	records := make([][]string, 0, len(sheet.Rows))
	records = append(records, headers)
	for _, row := range sheet.Rows[1:] {
		record := make([]string, len(headers))
		for i, cell := range row.Cells {
			if i < len(headers) {
				record[i] = cell.Value
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// validate 校验必需列，缺列视为解析失败
func validate(df dataframe.DataFrame, source string, required []string) (dataframe.DataFrame, error) {
	if missing := processor.MissingColumns(df, required); len(missing) > 0 {
		return df, &ParseError{
			Source: source,
			Err:    fmt.Errorf("缺少必需列: %s", strings.Join(missing, ", ")),
		}
	}
	return df, nil
}
