package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/channels"
	_ "atelier/pkg/channels/autoload" // 自動註冊 Channels
	"atelier/pkg/config"
	"atelier/pkg/gateway"
	"atelier/pkg/imagen"
	_ "atelier/pkg/imagen/autoload" // 自動註冊 Image Providers
	"atelier/pkg/monitor"
	"atelier/pkg/prompt"
	"atelier/pkg/retry"
	"atelier/pkg/sandbox"
	"atelier/pkg/service"
	"atelier/pkg/store"
	"atelier/pkg/tools"
)

func main() {
	// 啟動監控環境
	monitor.Startup()

	log.Println("==========================================")

	// --- 0. 讀取設定檔 ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v\n", err)
	}
	monitor.SetupSlog(sysCfg.LogLevel)
	slog.Info("Configuration loaded", "config", cfg.Redacted())

	// --- 1. 路徑沙盒與中繼資料索引 ---
	sb := sandbox.New(cfg.OutputDir)
	slog.Info("Path sandbox ready", "roots", sb.Roots())

	metaPath := cfg.MetadataFile
	if !filepath.IsAbs(metaPath) {
		metaPath = filepath.Join(cfg.OutputDir, metaPath)
	}
	st := store.New(metaPath, sysCfg.ListDefaultLimit)
	st.SetPathChecker(sb)
	if err := st.Load(); err != nil {
		log.Fatalf("❌ Failed to load metadata index: %v\n", err)
	}

	// --- 2. 影像供應商設定 ---
	router, err := imagen.NewFromConfig(cfg.Image, sysCfg)
	if err != nil {
		// 沒有任何供應商時仍然啟動，工具呼叫會回報 not configured
		slog.Warn("⚠️ No image provider available", "error", err)
		router = nil
	}

	// --- 3. 核心服務 ---
	policy := retry.New(sysCfg.MaxRetries, time.Duration(sysCfg.RetryDelayMs)*time.Millisecond)
	svc := service.New(router, st, sb, policy, service.Options{
		OutputDir:          cfg.OutputDir,
		DefaultModel:       cfg.DefaultModel,
		DefaultFormat:      cfg.DefaultFormat,
		MaxPromptChars:     sysCfg.MaxPromptChars,
		MaxReferenceImages: sysCfg.MaxReferenceImages,
	})

	if sysCfg.EnhancePrompts {
		if enhancer, err := prompt.NewEnhancer(sysCfg.EnhancerModel, sysCfg.OllamaDefaultURL); err == nil {
			svc.SetEnhancer(enhancer)
			slog.Info("✨ Prompt enhancer enabled", "model", sysCfg.EnhancerModel)
		} else {
			slog.Warn("⚠️ Prompt enhancer unavailable", "error", err)
		}
	}

	// --- 4. 工具註冊與 Dispatcher ---
	registry := tools.NewToolRegistry()
	tools.RegisterImageTools(registry, tools.Deps{
		Service:  svc,
		Store:    st,
		Sessions: service.NewSessionManager(),
	})

	cliMonitor := monitor.NewCLIMonitor()
	dispatcher := tools.NewDispatcher(registry)
	dispatcher.AddMonitor(cliMonitor)

	// --- 5. Gateway 初始化（使用 Builder 模式）---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(cliMonitor).
		WithChannel(channels.LoadFromConfig(cfg.Channels, sysCfg)...).
		WithHandler(func(responder api.InvocationResponder) api.InvocationHandler {
			return func(inv *api.Invocation) {
				res, derr := dispatcher.Dispatch(context.Background(), inv)
				if derr != nil {
					if err := responder.SendReply(inv.Session, "❌ "+derr.Message); err != nil {
						slog.Error("Failed to deliver error reply", "error", err)
					}
					return
				}
				if err := responder.SendResult(inv.Session, res); err != nil {
					slog.Error("Failed to deliver result", "error", err)
				}
			}
		}).
		Build()

	if err != nil {
		log.Fatalf("❌ Failed to build gateway: %v\n", err)
	}

	// --- 6. 設定檔熱更新 (只套用 system.json 的可熱換參數) ---
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	go func() {
		debounce := time.Duration(sysCfg.WatchDebounceMs) * time.Millisecond
		for range config.WatchConfig(watchCtx, debounce, "system.json") {
			newSys := config.LoadSystemConfig("system.json")
			monitor.SetupSlog(newSys.LogLevel)
			slog.Info("🔄 System config reloaded", "log_level", newSys.LogLevel)
		}
	}()

	// 監聽系統信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 等待信號
	<-sigChan
	log.Println("\nReceived shutdown signal. Stopping services...")

	// 執行清理
	gw.StopAll()
	log.Println("Bye!")
}
