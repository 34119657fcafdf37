// correlation.go
package processor

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/stat"
)

// 相关性定性分档文案
const (
	BandStrongPositive   = "strong positive"
	BandModeratePositive = "moderate positive"
	BandNegative         = "negative (unexpected)"
	BandNone             = "no clear correlation"
)

// CorrelationResult 皮尔逊相关系数及其定性分档。
// Defined 为 false 时系数无意义（样本不足或方差为零），
// 调用方不得把它当作 0 展示
type CorrelationResult struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
	Band    string  `json:"band,omitempty"`
	N       int     `json:"n"`
}

// AnalyzeCorrelation 在合并表上计算覆盖率与准确率的皮尔逊相关系数。
// 输入应当是已过滤的合并表；哨兵行在此处剔除，任一列缺失的行
// 成对剔除（pairwise-complete）
func AnalyzeCorrelation(merged dataframe.DataFrame) CorrelationResult {
	if merged.Nrow() == 0 {
		return CorrelationResult{}
	}

	xs := merged.Col(ColFractionTracked)
	ys := merged.Col(ColAccuratePct)

	var x, y []float64
	for i := 0; i < merged.Nrow(); i++ {
		xe := xs.Elem(i)
		ye := ys.Elem(i)
		if xe.IsNA() || ye.IsNA() {
			continue
		}
		xv := xe.Float()
		if xv == SentinelNoCoverage {
			// 无覆盖数据的行不参与相关性分析
			continue
		}
		x = append(x, xv)
		y = append(y, ye.Float())
	}

	if len(x) < 2 {
		return CorrelationResult{N: len(x)}
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		// 零方差时 gonum 返回 NaN，按未定义处理而不是静默输出
		return CorrelationResult{N: len(x)}
	}

	return CorrelationResult{
		Value:   r,
		Defined: true,
		Band:    ClassifyBand(r),
		N:       len(x),
	}
}

// ClassifyBand 把相关系数映射到定性分档，阈值半开区间，首个命中生效
func ClassifyBand(r float64) string {
	switch {
	case r > 0.5:
		return BandStrongPositive
	case r > 0.2:
		return BandModeratePositive
	case r < -0.2:
		return BandNegative
	default:
		return BandNone
	}
}

// BandText 分档对应的中文说明，用于推送摘要
func BandText(res CorrelationResult) string {
	if !res.Defined {
		return "样本不足，相关性未定义"
	}
	switch res.Band {
	case BandStrongPositive:
		return "强正相关：覆盖率越高，预测准确率明显越高"
	case BandModeratePositive:
		return "中等正相关：覆盖率提高时准确率有提升趋势"
	case BandNegative:
		return "负相关（异常）：覆盖率越高准确率反而越低，需排查"
	default:
		return "无明显相关：覆盖率单独无法解释准确率"
	}
}
