package main

import (
	"embed"
	"log"

	"authdesk/internal/config"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	app := NewApp()

	err := wails.Run(&options.App{
		Title:            config.AppName,
		Width:            1024,
		Height:           700,
		MinWidth:         360,
		MinHeight:        560,
		DisableResize:    false,
		Fullscreen:       false,
		Frameless:        false,
		StartHidden:      true,
		BackgroundColour: &options.RGBA{R: 15, G: 15, B: 20, A: 255}, // #0f0f14 (Dark theme bg)
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.Startup,
		OnDomReady: app.DomReady,
		OnShutdown: app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  true,
				HideTitleBar:               false,
				FullSizeContent:            true,
				UseToolbar:                 false,
			},
			About: &mac.AboutInfo{
				Title:   config.AppName,
				Message: "Desktop sign-in shell " + config.AppVersion,
			},
			WebviewIsTransparent: true,
			WindowIsTranslucent:  false,
			OnUrlOpen:            app.HandleDeepLink,
		},
	})

	if err != nil {
		log.Fatalf("[AUTHDESK] Fatal: %v", err)
	}
}
