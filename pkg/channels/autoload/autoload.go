// Package autoload 匯入所有內建的 Channel 實作，觸發其 init() 註冊。
// 主程式只需 blank import 本套件即可啟用全部通道。
package autoload

import (
	_ "atelier/pkg/channels/telegram"
	_ "atelier/pkg/channels/web"
)
