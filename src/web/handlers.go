// handlers.go
package web

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"AccuracyCoverage/src/config"
	"AccuracyCoverage/src/datasource/file"
	"AccuracyCoverage/src/processor"
	"AccuracyCoverage/src/storage"
	"AccuracyCoverage/src/utils"
)

// Handler 聚合全部HTTP处理器
type Handler struct {
	analyzer *processor.Analyzer
	dcfg     *config.DataConfig
	logger   *storage.Logger
}

func NewHandler(analyzer *processor.Analyzer, dcfg *config.DataConfig, logger *storage.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		dcfg:     dcfg,
		logger:   logger,
	}
}

// HealthCheck 服务健康状态
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"ready":  h.analyzer.Ready(),
	})
}

/******************** 数据源上传 ********************/

// UploadAccuracy 上传精度表(csv/xlsx)
func (h *Handler) UploadAccuracy(c *fiber.Ctx) error {
	return h.upload(c, "accuracy")
}

// UploadCoverage 上传覆盖表(csv/xlsx)
func (h *Handler) UploadCoverage(c *fiber.Ctx) error {
	return h.upload(c, "coverage")
}

func (h *Handler) upload(c *fiber.Ctx, source string) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "缺少上传文件")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "打开上传文件失败")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "读取上传文件失败")
	}

	df, err := h.parse(data, fileHeader.Filename, source)
	if err != nil {
		// 解析失败是致命的：整轮分析中止，不产生部分结果
		var parseErr *file.ParseError
		if errors.As(err, &parseErr) {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	hash := processor.ContentHash(data)
	if source == "accuracy" {
		err = h.analyzer.LoadAccuracy(df, hash)
	} else {
		err = h.analyzer.LoadCoverage(df, hash)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	h.logger.Info(fmt.Sprintf("上传 %s 数据源: %s, %d 行", source, fileHeader.Filename, df.Nrow()))
	return c.JSON(fiber.Map{
		"success": true,
		"source":  source,
		"rows":    df.Nrow(),
		"ready":   h.analyzer.Ready(),
	})
}

func (h *Handler) parse(data []byte, filename, source string) (dataframe.DataFrame, error) {
	isXLSX := strings.EqualFold(filepath.Ext(filename), ".xlsx")
	switch {
	case source == "accuracy" && isXLSX:
		return file.ReadAccuracyXLSX(data, h.dcfg.SheetName)
	case source == "accuracy":
		return file.ReadAccuracyCSV(data)
	case isXLSX:
		return file.ReadCoverageXLSX(data, h.dcfg.SheetName)
	default:
		return file.ReadCoverageCSV(data)
	}
}

/******************** 合并表与相关性 ********************/

// GetMerged 过滤后的合并表
func (h *Handler) GetMerged(c *fiber.Ctx) error {
	res, err := h.snapshot(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"data":      tableJSON(res.Merged),
		"count":     res.Merged.Nrow(),
		"selection": res.Selection,
	})
}

// GetCorrelation 过滤后合并表上的皮尔逊相关性
func (h *Handler) GetCorrelation(c *fiber.Ctx) error {
	res, err := h.snapshot(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    correlationJSON(res.Correlation),
	})
}

/******************** 聚合视图 ********************/

func (h *Handler) GetAccuracyByBucket(c *fiber.Ctx) error {
	return h.view(c, func(r *processor.Result) dataframe.DataFrame { return r.AccuracyByBucket })
}

func (h *Handler) GetAccuracyByRoute(c *fiber.Ctx) error {
	return h.view(c, func(r *processor.Result) dataframe.DataFrame { return r.AccuracyByRoute })
}

func (h *Handler) GetCoverageByPeriod(c *fiber.Ctx) error {
	return h.view(c, func(r *processor.Result) dataframe.DataFrame { return r.CoverageByPeriod })
}

func (h *Handler) GetCoverageByRoute(c *fiber.Ctx) error {
	return h.view(c, func(r *processor.Result) dataframe.DataFrame { return r.CoverageByRoute })
}

func (h *Handler) view(c *fiber.Ctx, pick func(*processor.Result) dataframe.DataFrame) error {
	res, err := h.snapshot(c)
	if err != nil {
		return err
	}

	df := pick(res)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    tableJSON(df),
		"count":   df.Nrow(),
	})
}

/******************** 筛选与原始数据 ********************/

// GetFilterOptions 筛选控件候选值与默认选中
func (h *Handler) GetFilterOptions(c *fiber.Ctx) error {
	periods, routes, err := h.analyzer.FilterOptions()
	if err != nil {
		return notReadyError(err)
	}

	defaults := h.analyzer.DefaultFilter()
	return c.JSON(fiber.Map{
		"success": true,
		"periods": periods,
		"routes":  routes,
		"default": defaults,
	})
}

// GetRawAccuracy 精度表原始数据，按配置截断
func (h *Handler) GetRawAccuracy(c *fiber.Ctx) error {
	df, err := h.analyzer.RawAccuracy(h.dcfg.GetRawRowLimit())
	if err != nil {
		return notReadyError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    tableJSON(df),
		"count":   df.Nrow(),
	})
}

// GetRawCoverage 覆盖表原始数据，按配置截断
func (h *Handler) GetRawCoverage(c *fiber.Ctx) error {
	df, err := h.analyzer.RawCoverage(h.dcfg.GetRawRowLimit())
	if err != nil {
		return notReadyError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    tableJSON(df),
		"count":   df.Nrow(),
	})
}

// ExportMerged 导出过滤后的合并表为xlsx
func (h *Handler) ExportMerged(c *fiber.Ctx) error {
	res, err := h.snapshot(c)
	if err != nil {
		return err
	}

	data, err := utils.ExcelBytes(res.Merged)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="merged.xlsx"`)
	return c.Send(data)
}

/******************** 日志流 ********************/

// StreamLogs 以SSE推送实时日志，消费日志器的订阅通道。
// 客户端断开后写入失败，循环结束并退订
func (h *Handler) StreamLogs(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ch := h.logger.Subscribe()
	logger := h.logger
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer logger.Unsubscribe(ch)
		writeLogEvents(w, ch)
	}))
	return nil
}

// writeLogEvents 把日志条目写成SSE事件，通道关闭或写失败时返回
func writeLogEvents(w *bufio.Writer, ch <-chan string) {
	for entry := range ch {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", strings.TrimRight(entry, "\n")); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

/******************** 辅助函数 ********************/

// snapshot 解析筛选参数并产出一轮分析结果。两表未齐备返回409
func (h *Handler) snapshot(c *fiber.Ctx) (*processor.Result, error) {
	sel, err := h.parseSelection(c)
	if err != nil {
		return nil, err
	}

	res, err := h.analyzer.Snapshot(sel)
	if err != nil {
		return nil, notReadyError(err)
	}
	return res, nil
}

// parseSelection 解析 periods/routes 查询参数（逗号分隔）。
// 两个参数都缺省时返回nil走默认筛选；参数存在但为空串表示
// 显式选空，结果为合法的空表
func (h *Handler) parseSelection(c *fiber.Ctx) (*processor.FilterSelection, error) {
	args := c.Context().QueryArgs()
	hasPeriods := args.Has("periods")
	hasRoutes := args.Has("routes")
	if !hasPeriods && !hasRoutes {
		return nil, nil
	}

	sel := &processor.FilterSelection{
		Periods: splitParam(c.Query("periods")),
		Routes:  splitParam(c.Query("routes")),
	}

	// 只给了一侧时，另一侧取默认筛选
	// (全部时段 / 字典序前 N 条线路)
	if hasPeriods != hasRoutes {
		def := h.analyzer.DefaultFilter()
		if !hasPeriods {
			sel.Periods = def.Periods
		}
		if !hasRoutes {
			sel.Routes = def.Routes
		}
	}
	return sel, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func notReadyError(err error) error {
	if errors.Is(err, processor.ErrNotReady) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

// correlationJSON 相关性响应。未定义时不输出系数，避免把未定义当成0
func correlationJSON(res processor.CorrelationResult) fiber.Map {
	m := fiber.Map{
		"defined": res.Defined,
		"n":       res.N,
	}
	if res.Defined {
		m["value"] = res.Value
		m["band"] = res.Band
	}
	return m
}

// tableJSON 把DataFrame转为行记录切片，缺失值输出为null
// (NaN无法直接JSON序列化)
func tableJSON(df dataframe.DataFrame) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, df.Nrow())
	names := df.Names()

	for i := 0; i < df.Nrow(); i++ {
		row := make(map[string]interface{}, len(names))
		for _, name := range names {
			el := df.Col(name).Elem(i)
			if el.IsNA() {
				row[name] = nil
				continue
			}
			val := el.Val()
			if f, ok := val.(float64); ok && math.IsNaN(f) {
				row[name] = nil
				continue
			}
			row[name] = val
		}
		rows = append(rows, row)
	}
	return rows
}
