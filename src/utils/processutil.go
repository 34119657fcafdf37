package utils

import (
	"bytes"
	"fmt"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// writeDataFrame 将DataFrame写入excelize工作簿
func writeDataFrame(f *excelize.File, sheetName string, df dataframe.DataFrame) {
	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, name)
	}

	// 写入数据
	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, colName := range colNames {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			el := df.Col(colName).Elem(rowIdx)
			if el.IsNA() {
				continue // 缺失值留空
			}
			f.SetCellValue(sheetName, cell, el.Val())
		}
	}
}

// SaveToExcel 将DataFrame保存为Excel文件
func SaveToExcel(df dataframe.DataFrame, filePath string) error {
	f := excelize.NewFile()
	defer f.Close()

	writeDataFrame(f, "Sheet1", df)

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

// ExcelBytes 将DataFrame序列化为xlsx字节流，用于HTTP下载
func ExcelBytes(df dataframe.DataFrame) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	writeDataFrame(f, "Sheet1", df)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("导出Excel失败: %w", err)
	}
	return buf.Bytes(), nil
}
