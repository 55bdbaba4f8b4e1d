// Package autoload 匯入所有內建 image providers，觸發其 init() 註冊。
package autoload

import (
	_ "atelier/pkg/imagen/gemini"
	_ "atelier/pkg/imagen/openaiimg"
)
