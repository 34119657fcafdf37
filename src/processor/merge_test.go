package processor

import (
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

func loadAccuracy(records [][]string) dataframe.DataFrame {
	return dataframe.LoadRecords(
		records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithTypes(map[string]series.Type{
			ColAccuratePct:      series.Float,
			ColEarlyPct:         series.Float,
			ColLatePct:          series.Float,
			ColTotalPredictions: series.Int,
		}),
	)
}

func loadCoverage(records [][]string) dataframe.DataFrame {
	return dataframe.LoadRecords(
		records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithTypes(map[string]series.Type{
			ColFractionTracked: series.Float,
			ColFractionMissing: series.Float,
		}),
	)
}

func testAccuracy() dataframe.DataFrame {
	return loadAccuracy([][]string{
		{ColRouteID, ColTimePeriod, ColTimeBucket, ColAccuratePct, ColEarlyPct, ColLatePct, ColTotalPredictions},
		{"10", "AM Peak", "7-9", "0.9", "0.05", "0.05", "120"},
		{"10", "Midday", "11-14", "0.7", "0.1", "0.2", "90"},
		{"20", "AM Peak", "7-9", "0.6", "0.2", "0.2", "80"},
		{"30", "Midday", "11-14", "0.5", "0.3", "0.2", "60"},
	})
}

func testCoverage() dataframe.DataFrame {
	return loadCoverage([][]string{
		{ColRoute, ColTimePeriod, ColFractionTracked, ColFractionMissing},
		{"10", "AM Peak", "0.9", "0.02"},
		{"10", "Midday", "0.8", "0.05"},
		{"20", "AM Peak", "0.6", "0.2"},
	})
}

func mustRename(t *testing.T, cov dataframe.DataFrame) dataframe.DataFrame {
	t.Helper()
	renamed, err := RenameCoverageKey(cov)
	if err != nil {
		t.Fatalf("重命名失败: %v", err)
	}
	return renamed
}

func TestRenameCoverageKey(t *testing.T) {
	cov := testCoverage()
	renamed := mustRename(t, cov)

	if len(MissingColumns(renamed, []string{ColRouteID})) > 0 {
		t.Error("重命名后应有 routeID 列")
	}
	// 原表不受影响
	if len(MissingColumns(cov, []string{ColRoute})) > 0 {
		t.Error("原覆盖表的 route 列不应被改名")
	}
}

func TestRenameCoverageKeyMissingColumn(t *testing.T) {
	df := dataframe.LoadRecords([][]string{
		{"foo"},
		{"1"},
	})
	if _, err := RenameCoverageKey(df); err == nil {
		t.Error("缺少 route 列时应报错")
	}
}

func TestMergeRowCountInvariant(t *testing.T) {
	acc := testAccuracy()
	merged, err := MergeTables(acc, mustRename(t, testCoverage()))
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	if merged.Nrow() != acc.Nrow() {
		t.Errorf("合并表行数 %d 应与精度表行数 %d 一致", merged.Nrow(), acc.Nrow())
	}
}

func TestMergeMatchedValues(t *testing.T) {
	merged, err := MergeTables(testAccuracy(), mustRename(t, testCoverage()))
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	routes := merged.Col(ColRouteID).Records()
	periods := merged.Col(ColTimePeriod).Records()
	tracked := merged.Col(ColFractionTracked)

	found := false
	for i := range routes {
		if routes[i] == "10" && periods[i] == "AM Peak" {
			found = true
			if v := tracked.Elem(i).Float(); v != 0.9 {
				t.Errorf("(10, AM Peak) 覆盖率期望0.9, 实际 %v", v)
			}
		}
	}
	if !found {
		t.Fatal("合并表中未找到 (10, AM Peak)")
	}
}

func TestMergeSentinelAsymmetry(t *testing.T) {
	merged, err := MergeTables(testAccuracy(), mustRename(t, testCoverage()))
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	routes := merged.Col(ColRouteID).Records()
	tracked := merged.Col(ColFractionTracked)
	missing := merged.Col(ColFractionMissing)
	matchedCol := merged.Col(ColCoverageMatched)

	for i := range routes {
		if routes[i] != "30" {
			continue
		}
		// 未匹配行: fractionTrackedExplained 填哨兵 -1
		if v := tracked.Elem(i).Float(); v != SentinelNoCoverage {
			t.Errorf("无覆盖行期望哨兵 %v, 实际 %v", SentinelNoCoverage, v)
		}
		// fractionOnFullyMissingTrips 保持缺失，不填哨兵
		if !missing.Elem(i).IsNA() {
			t.Errorf("fractionOnFullyMissingTrips 应保持缺失, 实际 %v", missing.Elem(i).Val())
		}
		if matchedCol.Elem(i).Val() != false {
			t.Error("无覆盖行 coverageMatched 应为 false")
		}
		return
	}
	t.Fatal("合并表中未找到线路 30")
}

func TestDedupCoverageKeepFirst(t *testing.T) {
	cov := loadCoverage([][]string{
		{ColRoute, ColTimePeriod, ColFractionTracked, ColFractionMissing},
		{"10", "AM Peak", "0.9", "0.02"},
		{"10", "AM Peak", "0.1", "0.5"}, // 重复键，应被丢弃
		{"20", "AM Peak", "0.6", "0.2"},
	})
	renamed := mustRename(t, cov)

	deduped := DedupCoverage(renamed)
	if deduped.Nrow() != 2 {
		t.Fatalf("去重后期望2行, 实际 %d", deduped.Nrow())
	}
	if v := deduped.Col(ColFractionTracked).Elem(0).Float(); v != 0.9 {
		t.Errorf("应保留首次出现的行(0.9), 实际 %v", v)
	}
}

func TestMergeWithDuplicateCoverage(t *testing.T) {
	cov := loadCoverage([][]string{
		{ColRoute, ColTimePeriod, ColFractionTracked, ColFractionMissing},
		{"10", "AM Peak", "0.9", "0.02"},
		{"10", "AM Peak", "0.1", "0.5"},
		{"10", "Midday", "0.8", "0.05"},
		{"20", "AM Peak", "0.6", "0.2"},
	})

	acc := testAccuracy()
	merged, err := MergeTables(acc, mustRename(t, cov))
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	// 覆盖表重复键不得把精度行扇出成多行
	if merged.Nrow() != acc.Nrow() {
		t.Errorf("行数不变式被破坏: 合并 %d 行, 精度 %d 行", merged.Nrow(), acc.Nrow())
	}
}

func TestMergeEmptyAccuracy(t *testing.T) {
	acc := dataframe.New()
	merged, err := MergeTables(acc, mustRename(t, testCoverage()))
	if err != nil {
		t.Fatalf("空精度表合并失败: %v", err)
	}
	if merged.Nrow() != 0 {
		t.Errorf("空精度表应得到空合并表, 实际 %d 行", merged.Nrow())
	}
}
