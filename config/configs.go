package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"
)

var MainConfig = Default()

// ViewportConfig 视口尺寸
type ViewportConfig struct {
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
}

// GlobeConfig 瓦片引擎参数
type GlobeConfig struct {
	ErrorThreshold       float64 `xml:"errorThreshold,attr"`
	Tesselation          int     `xml:"tesselation,attr"`
	Skirt                bool    `xml:"skirt,attr"`
	NumberOfLevels       int     `xml:"numberOfLevels,attr"`
	Radius               float64 `xml:"radius,attr"`
	HorizonCullThreshold float64 `xml:"horizonCullThreshold,attr"`
	SkirtFraction        float64 `xml:"skirtFraction,attr"`
	MaxRequests          int     `xml:"maxRequests,attr"`
}

// CacheConfig 瓦片缓存，Size 与 TTL 为内存缓存，StoreTTL 为数据库缓存
type CacheConfig struct {
	Size     int    `xml:"size,attr"`
	TTL      string `xml:"ttl,attr"`
	StoreTTL string `xml:"storeTtl,attr"`
}

// FetchConfig 瓦片获取
type FetchConfig struct {
	Timeout   string `xml:"timeout,attr"`
	Retries   int    `xml:"retries,attr"`
	UserAgent string `xml:"userAgent,attr"`
}

type Config struct {
	XMLName    xml.Name `xml:"config"`
	Listen     string   `xml:"listen"`
	DBDriver   string   `xml:"dbdriver"`
	DSN        string   `xml:"dsn"`
	Host       string   `xml:"host"`
	Port       string   `xml:"port"`
	Username   string   `xml:"user"`
	Password   string   `xml:"password"`
	Dbname     string   `xml:"dbname"`
	SqlitePath string   `xml:"sqlitepath"`

	Viewport      ViewportConfig `xml:"viewport"`
	Globe         GlobeConfig    `xml:"globe"`
	Cache         CacheConfig    `xml:"cache"`
	Fetch         FetchConfig    `xml:"fetch"`
	FrameInterval string         `xml:"frameInterval"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Listen:     ":8426",
		DBDriver:   "sqlite",
		SqlitePath: "./data/souceglobe.db",
		Viewport:   ViewportConfig{Width: 800, Height: 600},
		Globe: GlobeConfig{
			ErrorThreshold:       4,
			Tesselation:          9,
			Skirt:                true,
			NumberOfLevels:       21,
			Radius:               1,
			HorizonCullThreshold: -0.05,
			SkirtFraction:        0.05,
			MaxRequests:          4,
		},
		Cache:         CacheConfig{Size: 1000, TTL: "30m", StoreTTL: "720h"},
		Fetch:         FetchConfig{Timeout: "30s", Retries: 3, UserAgent: "SouceGlobe/1.0"},
		FrameInterval: "16ms",
	}
}

// Load 读取XML配置，未出现的字段保留默认值
func Load(path string) (Config, error) {
	cfg := Default()
	xmlFile, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer xmlFile.Close()

	if err := xml.NewDecoder(xmlFile).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Globe.Tesselation%2 == 0 {
		return cfg, fmt.Errorf("tesselation %d must be odd", cfg.Globe.Tesselation)
	}
	MainConfig = cfg
	return cfg, nil
}

// PostgresDSN 由分项参数拼接 postgres 连接串
func (c Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

// MySQLDSN 由分项参数拼接 mysql 连接串
func (c Config) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Dbname)
}

// Duration 解析时长，非法或为空时返回 def
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
