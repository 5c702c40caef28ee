package tile_proxy

import (
	"strconv"
	"strings"
)

// BuildTileURL 按模板构建瓦片URL，支持 {z} {x} {y} {-y}（TMS行号）与 {s}（子域名轮换）
func BuildTileURL(template string, z, x, y int, subdomains []string) string {
	url := template
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(x))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(y))
	url = strings.ReplaceAll(url, "{-y}", strconv.Itoa(int(1<<uint(z))-1-y))
	if len(subdomains) > 0 && strings.Contains(url, "{s}") {
		url = strings.ReplaceAll(url, "{s}", subdomains[(x+y)%len(subdomains)])
	}
	return url
}
