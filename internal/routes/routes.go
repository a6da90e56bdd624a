package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/SheetWithoutShit/sws-collector/internal/handlers"
)

// Setup registers every route the collector serves. The webhook path carries
// the signed token, so no extra auth middleware is layered on top.
func Setup(r *gin.Engine, collector *handlers.Collector) {
	r.POST("/monobank/:token", collector.Webhook)
	r.GET("/ws/transactions", collector.Subscribe)
}
