package Transformer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadDAT 读取 CASS 坐标数据文件，每行为 "点名,编码,X,Y[,H]"
func ReadDAT(r io.Reader) (*geojson.FeatureCollection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	decode := decoder(DetectCharset(data))

	fc := geojson.NewFeatureCollection()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) < 4 {
			return nil, fmt.Errorf("dat line %d: expected at least 4 columns", lineNo)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(cols[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("dat line %d: %w", lineNo, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(cols[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("dat line %d: %w", lineNo, err)
		}
		f := geojson.NewFeature(orb.Point{x, y})
		f.Properties["name"] = decode(strings.TrimSpace(cols[0]))
		if code := strings.TrimSpace(cols[1]); code != "" {
			f.Properties["code"] = decode(code)
		}
		if len(cols) > 4 {
			if h, err := strconv.ParseFloat(strings.TrimSpace(cols[4]), 64); err == nil {
				f.Properties["height"] = h
			}
		}
		fc.Append(f)
	}
	return fc, scanner.Err()
}
