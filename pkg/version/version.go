package version

const (
	// AppName 是应用程序的名称
	AppName = "devanagari-ocr-server"
	// AppNameCHS 是应用程序的中文名称
	AppNameCHS = "天城文识别服务"
	// Version 是当前版本
	Version = "0.5.0"
	// Author 是应用程序的作者
	Author = "NeuraXmy"
)

// GetFullName 返回带版本的完整名称
func GetFullName() string {
	return AppName + " v" + Version
}

// UserAgent 返回调用外部 OCR 服务时使用的 User-Agent
func UserAgent() string {
	return AppName + "/" + Version
}
