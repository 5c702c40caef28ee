package views

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GrainArc/SouceGlobe/globe"
	"github.com/GrainArc/SouceGlobe/models"
	"github.com/gin-gonic/gin"
)

// CreateSource 新增图层源，启用时立即挂载
func (gc *GlobeController) CreateSource(c *gin.Context) {
	var src models.LayerSource
	if err := c.ShouldBindJSON(&src); err != nil {
		c.JSON(http.StatusOK,
			gin.H{
				"error": err.Error(),
				"code":  400,
			})
		return
	}

	if err := gc.layers.Create(&src); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "创建失败: " + err.Error(), "code": errorCode(err)})
		return
	}

	attached := false
	if src.Status == 1 && c.Query("attach") != "false" {
		err := gc.do(c, func(g *globe.Globe) error {
			return gc.layers.Attach(g, src.ID)
		})
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"error": "挂载失败: " + err.Error(), "code": errorCode(err), "data": src})
			return
		}
		attached = true
	}

	c.JSON(http.StatusOK, gin.H{
		"code":     200,
		"data":     src,
		"attached": attached,
	})
}

// GetSourceByID 获取图层源
func (gc *GlobeController) GetSourceByID(c *gin.Context) {
	src, err := gc.layers.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"error": "图层源不存在",
			"code":  errorCode(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": src,
	})
}

// ListSources 分页列出图层源
func (gc *GlobeController) ListSources(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	sources, total, err := gc.layers.Query(c.Query("groupName"), c.Query("name"), page, pageSize)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"error": "查询失败",
			"code":  500,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": gin.H{
			"list":     sources,
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
		},
	})
}

// UpdateSource 修改图层源，已挂载的图层按新配置重新挂载
func (gc *GlobeController) UpdateSource(c *gin.Context) {
	id := c.Param("id")
	var src models.LayerSource
	if err := c.ShouldBindJSON(&src); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 400})
		return
	}
	src.ID = id

	if err := gc.layers.Update(&src); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "更新失败: " + err.Error(), "code": errorCode(err)})
		return
	}

	err := gc.do(c, func(g *globe.Globe) error {
		if g.Layer(id) == nil {
			return nil
		}
		if err := gc.layers.Detach(g, id); err != nil {
			return err
		}
		if src.Status != 1 {
			return nil
		}
		return gc.layers.Attach(g, id)
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "重新挂载失败: " + err.Error(), "code": errorCode(err), "data": src})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": src,
	})
}

// DeleteSource 删除图层源并从 Globe 卸载
func (gc *GlobeController) DeleteSource(c *gin.Context) {
	id := c.Param("id")
	err := gc.do(c, func(g *globe.Globe) error {
		if g.Layer(id) == nil {
			return nil
		}
		return gc.layers.Detach(g, id)
	})
	if err != nil && !errors.Is(err, globe.ErrLayerNotFound) {
		c.JSON(http.StatusOK, gin.H{"error": "卸载失败: " + err.Error(), "code": errorCode(err)})
		return
	}

	if err := gc.layers.Delete(id); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "删除失败: " + err.Error(), "code": errorCode(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "删除成功",
	})
}

// CacheStats 瓦片缓存统计
func (gc *GlobeController) CacheStats(c *gin.Context) {
	stats, err := gc.cache.Stats()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": stats})
}

// ClearCache 清空瓦片缓存
func (gc *GlobeController) ClearCache(c *gin.Context) {
	if err := gc.cache.ClearCache(); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "缓存已清空"})
}
