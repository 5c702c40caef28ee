// Package Transformer 将 KML、Shapefile、DXF、CASS dat 与 GeoJSON 文件转换为经纬度 GeoJSON 要素
package Transformer

import (
	"io"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// GbkToUtf8 GBK 转 UTF-8，解码失败时返回原字符串
func GbkToUtf8(s string) string {
	utf8String, _, err := transform.String(simplifiedchinese.GBK.NewDecoder(), s)
	if err != nil {
		return s
	}
	return utf8String
}

// isGBK 字符集名称是否按 GBK 解码
func isGBK(charset string) bool {
	switch strings.ToUpper(strings.TrimSpace(charset)) {
	case "GBK", "GB2312", "GB18030", "GB-18030", "936", "CP936":
		return true
	}
	return false
}

// DetectCharset 检测文本字符集，无法判断时为 UTF-8
func DetectCharset(data []byte) string {
	if len(data) == 0 {
		return "UTF-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "UTF-8"
	}
	return result.Charset
}

// decoder 按字符集返回解码函数
func decoder(charset string) func(string) string {
	if isGBK(charset) {
		return GbkToUtf8
	}
	return func(s string) string { return s }
}

func gbkReader(r io.Reader) io.Reader {
	return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
}
