package web

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"AccuracyCoverage/src/config"
	"AccuracyCoverage/src/processor"
	"AccuracyCoverage/src/storage"
)

var accuracyCSV = []byte(`routeID,timePeriod,Time Bucket,accurate_pct,early_pct,late_pct,totalPredictions
10,AM Peak,7-9,0.9,0.05,0.05,120
10,Midday,11-14,0.7,0.1,0.2,90
20,AM Peak,7-9,0.6,0.2,0.2,80
30,Midday,11-14,0.5,0.3,0.2,60
`)

var coverageCSV = []byte(`route,timePeriod,fractionTrackedExplained,fractionOnFullyMissingTrips
10,AM Peak,0.95,0.02
10,Midday,0.8,0.05
20,AM Peak,0.6,0.2
`)

// 缺少必需列 accurate_pct
var badAccuracyCSV = []byte(`routeID,timePeriod
10,AM Peak
`)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"))
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	dcfg := &config.DataConfig{
		RawRowLimit:       1000,
		RouteDefaultLimit: 10,
	}
	analyzer := processor.NewAnalyzer(dcfg.RouteDefaultLimit)

	app := fiber.New(fiber.Config{ErrorHandler: CustomErrorHandler})
	SetupRoutes(app, analyzer, dcfg, logger)
	return app
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("构造multipart失败: %v", err)
	}
	part.Write(content)
	writer.Close()
	return body, writer.FormDataContentType()
}

func uploadFile(t *testing.T, app *fiber.App, url, filename string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	return resp
}

func loadBoth(t *testing.T, app *fiber.App) {
	t.Helper()
	resp := uploadFile(t, app, "/api/v1/upload/accuracy", "accuracy.csv", accuracyCSV)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("上传精度表失败: %d", resp.StatusCode)
	}
	resp = uploadFile(t, app, "/api/v1/upload/coverage", "coverage.csv", coverageCSV)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("上传覆盖表失败: %d", resp.StatusCode)
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("解析响应失败: %v (%s)", err, data)
	}
	return m
}

func get(t *testing.T, app *fiber.App, url string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp := get(t, app, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望200, 实际 %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ready"] != false {
		t.Error("数据未加载时 ready 应为 false")
	}
}

func TestMergedBeforeReady(t *testing.T) {
	app := newTestApp(t)

	resp := get(t, app, "/api/v1/merged")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("两表未齐备时期望409, 实际 %d", resp.StatusCode)
	}
}

func TestUploadBadAccuracy(t *testing.T) {
	app := newTestApp(t)

	resp := uploadFile(t, app, "/api/v1/upload/accuracy", "accuracy.csv", badAccuracyCSV)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("缺列文件期望422, 实际 %d", resp.StatusCode)
	}
}

func TestUploadMissingFile(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload/accuracy", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("缺少文件期望400, 实际 %d", resp.StatusCode)
	}
}

func TestMergedAfterUpload(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	resp := get(t, app, "/api/v1/merged")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望200, 实际 %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	// 合并表行数与精度表一致(左连接)
	if count := body["count"].(float64); count != 4 {
		t.Errorf("合并表期望4行, 实际 %v", count)
	}

	rows := body["data"].([]interface{})
	// 线路30在覆盖表中缺失：fractionTrackedExplained 填哨兵-1，
	// fractionOnFullyMissingTrips 保持null
	for _, r := range rows {
		row := r.(map[string]interface{})
		if row["routeID"] == "30" {
			if v := row["fractionTrackedExplained"]; v != -1.0 {
				t.Errorf("无覆盖行期望哨兵-1, 实际 %v", v)
			}
			if v := row["fractionOnFullyMissingTrips"]; v != nil {
				t.Errorf("fractionOnFullyMissingTrips 应保持null, 实际 %v", v)
			}
			if v := row["coverageMatched"]; v != false {
				t.Errorf("无覆盖行 coverageMatched 应为false, 实际 %v", v)
			}
		}
	}
}

func TestMergedWithFilter(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	resp := get(t, app, "/api/v1/merged?periods=AM+Peak&routes=10,20")
	body := decodeBody(t, resp)
	if count := body["count"].(float64); count != 2 {
		t.Errorf("过滤后期望2行, 实际 %v", count)
	}

	// 参数存在但为空：显式选空，返回合法空表
	resp = get(t, app, "/api/v1/merged?periods=&routes=")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("空筛选期望200, 实际 %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if count := body["count"].(float64); count != 0 {
		t.Errorf("空筛选期望0行, 实际 %v", count)
	}
}

func TestMergedRoutesAbsentUsesDefault(t *testing.T) {
	app := newTestApp(t)

	// 12条线路，超过默认上限10
	var acc, cov strings.Builder
	acc.WriteString("routeID,timePeriod,Time Bucket,accurate_pct,early_pct,late_pct,totalPredictions\n")
	cov.WriteString("route,timePeriod,fractionTrackedExplained,fractionOnFullyMissingTrips\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&acc, "%02d,AM Peak,7-9,0.8,0.1,0.1,100\n", i)
		fmt.Fprintf(&cov, "%02d,AM Peak,0.9,0.05\n", i)
	}

	resp := uploadFile(t, app, "/api/v1/upload/accuracy", "accuracy.csv", []byte(acc.String()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("上传精度表失败: %d", resp.StatusCode)
	}
	resp = uploadFile(t, app, "/api/v1/upload/coverage", "coverage.csv", []byte(cov.String()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("上传覆盖表失败: %d", resp.StatusCode)
	}

	// 只给时段不给线路：线路侧取默认(字典序前10)，而非全量12条
	resp = get(t, app, "/api/v1/merged?periods=AM+Peak")
	body := decodeBody(t, resp)
	if count := body["count"].(float64); count != 10 {
		t.Errorf("线路缺省时期望默认前10条, 实际 %v 行", count)
	}

	sel := body["selection"].(map[string]interface{})
	routes := sel["routes"].([]interface{})
	if len(routes) != 10 || routes[0] != "01" || routes[9] != "10" {
		t.Errorf("默认选中应为字典序前10条线路: %v", routes)
	}
}

func TestCorrelationEndpoint(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	resp := get(t, app, "/api/v1/correlation")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望200, 实际 %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	data := body["data"].(map[string]interface{})
	if data["defined"] != true {
		t.Errorf("三对样本应能计算相关性: %v", data)
	}
	// 哨兵行不参与相关性
	if n := data["n"].(float64); n != 3 {
		t.Errorf("样本数期望3, 实际 %v", n)
	}
}

func TestViewsAndOptions(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	for _, url := range []string{
		"/api/v1/views/accuracy-by-bucket",
		"/api/v1/views/accuracy-by-route",
		"/api/v1/views/coverage-by-period",
		"/api/v1/views/coverage-by-route",
	} {
		resp := get(t, app, url)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s 期望200, 实际 %d", url, resp.StatusCode)
		}
	}

	resp := get(t, app, "/api/v1/filters/options")
	body := decodeBody(t, resp)
	routes := body["routes"].([]interface{})
	if len(routes) != 3 {
		t.Errorf("候选线路期望3条, 实际 %v", routes)
	}
}

func TestRawEndpoints(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	resp := get(t, app, "/api/v1/raw/accuracy")
	body := decodeBody(t, resp)
	if count := body["count"].(float64); count != 4 {
		t.Errorf("精度原始数据期望4行, 实际 %v", count)
	}

	resp = get(t, app, "/api/v1/raw/coverage")
	body = decodeBody(t, resp)
	if count := body["count"].(float64); count != 3 {
		t.Errorf("覆盖原始数据期望3行, 实际 %v", count)
	}
}

func TestWriteLogEvents(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	ch := make(chan string, 2)
	ch <- "[2026-01-01 00:00:00] INFO: 数据源加载完成\n"
	ch <- "[2026-01-01 00:00:01] ERROR: 合并失败\n"
	close(ch)

	writeLogEvents(w, ch)

	out := buf.String()
	if !strings.Contains(out, "data: [2026-01-01 00:00:00] INFO: 数据源加载完成\n\n") {
		t.Errorf("SSE事件格式错误: %q", out)
	}
	if !strings.Contains(out, "ERROR: 合并失败") {
		t.Errorf("缺少第二条事件: %q", out)
	}
	// 条目尾部换行被剥掉，每个事件以空行结束
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("事件间不应出现多余空行: %q", out)
	}
}

func TestExportMerged(t *testing.T) {
	app := newTestApp(t)
	loadBoth(t, app)

	resp := get(t, app, "/api/v1/export/merged")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望200, 实际 %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Content-Type 错误: %s", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if len(data) == 0 {
		t.Error("导出内容为空")
	}
}
