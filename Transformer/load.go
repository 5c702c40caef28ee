package Transformer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedFormat 不支持的文件类型
var ErrUnsupportedFormat = errors.New("unsupported vector file format")

// 压缩包内按此顺序查找数据文件
var dataExts = []string{"shp", "kml", "dxf", "geojson", "json", "dat"}

func isArchive(ext string) bool {
	switch ext {
	case ".zip", ".rar", ".tar", ".gz", ".tgz":
		return true
	}
	return false
}

// Supported 是否支持该文件
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if isArchive(ext) {
		return true
	}
	for _, e := range dataExts {
		if ext == "."+e {
			return true
		}
	}
	return false
}

// FindFiles 递归查找扩展名为 ext 的文件，按路径排序
func FindFiles(root string, ext string) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), "."+ext) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func readWith(path string, read func(io.Reader) (*geojson.FeatureCollection, error)) (*geojson.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

func readGeoJSON(r io.Reader) (*geojson.FeatureCollection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	return fc, nil
}

// read 按扩展名读取单个数据文件，坐标保持原样
func read(path string) (*geojson.FeatureCollection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path)
	case ".kml":
		return readWith(path, ReadKML)
	case ".dxf":
		return readWith(path, ReadDXF)
	case ".dat":
		return readWith(path, ReadDAT)
	case ".geojson", ".json":
		return readWith(path, readGeoJSON)
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
}

// Load 读取矢量文件或压缩包并转换为经纬度，返回第一个数据文件的原坐标系。
// centralMeridian 用于不带带号的高斯-克吕格坐标。
func Load(path string, centralMeridian float64) (*geojson.FeatureCollection, CRS, error) {
	if isArchive(strings.ToLower(filepath.Ext(path))) {
		return loadArchive(path, centralMeridian)
	}
	fc, err := read(path)
	if err != nil {
		return nil, CRS{}, err
	}
	crs, err := ToWGS84(fc, centralMeridian)
	if err != nil {
		return nil, CRS{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return fc, crs, nil
}

// loadArchive 解压后读取全部数据文件，文件名写入 source 属性
func loadArchive(path string, centralMeridian float64) (*geojson.FeatureCollection, CRS, error) {
	dir, err := os.MkdirTemp("", "souceglobe-unpack-")
	if err != nil {
		return nil, CRS{}, err
	}
	defer os.RemoveAll(dir)

	if err := archiver.Unarchive(path, dir); err != nil {
		return nil, CRS{}, fmt.Errorf("unarchive %s: %w", filepath.Base(path), err)
	}

	out := geojson.NewFeatureCollection()
	var first *CRS
	for _, ext := range dataExts {
		for _, file := range FindFiles(dir, ext) {
			fc, crs, err := Load(file, centralMeridian)
			if err != nil {
				return nil, CRS{}, err
			}
			if first == nil {
				first = &crs
			}
			name := filepath.Base(file)
			for _, f := range fc.Features {
				if f.Properties == nil {
					f.Properties = geojson.Properties{}
				}
				f.Properties["source"] = name
				out.Append(f)
			}
		}
	}
	if first == nil {
		return nil, CRS{}, fmt.Errorf("%s: no vector data: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	return out, *first, nil
}
