// filter.go
package processor

import (
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// DefaultRouteLimit 默认选中的线路数上限，只为控制初始展示量，不是正确性约束
const DefaultRouteLimit = 10

// FilterSelection 交互筛选：选中的时段集合与线路集合
type FilterSelection struct {
	Periods []string `json:"periods"`
	Routes  []string `json:"routes"`
}

// DistinctValues 某列去重后的取值，保持首次出现顺序
func DistinctValues(df dataframe.DataFrame, col string) []string {
	if df.Nrow() == 0 {
		return nil
	}

	records := df.Col(col).Records()
	seen := make(map[string]bool, len(records))
	var out []string
	for _, v := range records {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// DefaultSelection 默认筛选：全部时段 + 字典序前 limit 条线路
func DefaultSelection(merged dataframe.DataFrame, limit int) FilterSelection {
	if limit <= 0 {
		limit = DefaultRouteLimit
	}

	routes := DistinctValues(merged, ColRouteID)
	sort.Strings(routes)
	if len(routes) > limit {
		routes = routes[:limit]
	}

	return FilterSelection{
		Periods: DistinctValues(merged, ColTimePeriod),
		Routes:  routes,
	}
}

// ApplyFilter 按时段与线路过滤单表，routeCol 指定该表的线路列名
// (精度表/合并表为 routeID，覆盖表为 route)。三张表各自独立过滤，
// 结果为空是合法状态，按空表返回而不是报错
func ApplyFilter(df dataframe.DataFrame, routeCol string, sel FilterSelection) dataframe.DataFrame {
	if df.Nrow() == 0 {
		return df
	}

	filtered := df.Filter(
		dataframe.F{Colname: ColTimePeriod, Comparator: series.In, Comparando: sel.Periods},
	)
	if filtered.Nrow() == 0 {
		return filtered
	}

	return filtered.Filter(
		dataframe.F{Colname: routeCol, Comparator: series.In, Comparando: sel.Routes},
	)
}
