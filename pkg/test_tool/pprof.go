package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof 非 production 環境時在 addr 啟動 pprof，addr 為空則不啟動
//
//	curl http://127.0.0.1:6060/debug/pprof/goroutine?debug=1
//
// 連線數多時可用 goroutine profile 確認每條連線只有 read loop 與 writer 兩個 goroutine
func StartPprof(addr string) {
	if config.IsProduction() || addr == "" {
		logger.Log.Info("pprof is disabled")
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Log.Warn("pprof server failed", zap.Error(err))
		}
	}()
}
