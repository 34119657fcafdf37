package utils

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"
)

func testDF() dataframe.DataFrame {
	return dataframe.New(
		series.New([]string{"10", "20"}, series.String, "routeID"),
		series.New([]float64{0.9, math.NaN()}, series.Float, "accurate_pct"),
	)
}

func TestContains(t *testing.T) {
	if !Contains([]string{"a", "b"}, "b") {
		t.Error("应包含 b")
	}
	if Contains([]string{"a", "b"}, "c") {
		t.Error("不应包含 c")
	}
	if !Contains([]int{1, 2, 3}, 2) {
		t.Error("应包含 2")
	}
}

func TestHasColumn(t *testing.T) {
	df := testDF()
	if !HasColumn(df, "routeID") {
		t.Error("应有 routeID 列")
	}
	if HasColumn(df, "nope") {
		t.Error("不应有 nope 列")
	}
}

func TestExcelBytes(t *testing.T) {
	data, err := ExcelBytes(testDF())
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("导出内容为空")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("导出内容无法打开: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("读取工作表失败: %v", err)
	}
	// 标题行 + 2行数据
	if len(rows) != 3 {
		t.Fatalf("期望3行, 实际 %d", len(rows))
	}
	if rows[0][0] != "routeID" {
		t.Errorf("标题行错误: %v", rows[0])
	}
	// 缺失值留空
	if len(rows[2]) > 1 && rows[2][1] != "" {
		t.Errorf("缺失值应留空, 实际 %q", rows[2][1])
	}
}

func TestSaveToExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	if err := SaveToExcel(testDF(), path); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("文件未生成: %v", err)
	}
}
