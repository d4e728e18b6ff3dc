package statusapi

import (
	"net/http"

	"codeberg.org/mutker/finshlink/internal/finsh"
	"github.com/gin-gonic/gin"
)

type rawRequest struct {
	Mode string `json:"mode"` // "ascii" or "hex"
	Data string `json:"data"`
}

type rawResponse struct {
	BytesSent int    `json:"bytes_sent"`
	HexDump   string `json:"hex_dump"`
}

// handleRaw is the manual console: operator-typed bytes go straight to
// the port, bypassing the codec and the scheduler. ASCII input gets a
// trailing newline so firmware shell commands terminate.
func (s *Server) handleRaw(c *gin.Context) {
	var req rawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	var payload []byte
	switch req.Mode {
	case "ascii":
		payload = append([]byte(req.Data), '\n')
	case "hex":
		decoded, err := finsh.ParseHexInput(req.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}
		payload = decoded
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be ascii or hex"})

		return
	}

	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to send"})

		return
	}

	if err := s.tr.Write(payload); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, rawResponse{
		BytesSent: len(payload),
		HexDump:   finsh.FormatHexDump(payload),
	})
}
