package lending

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// gin は同じ位置のワイルドカードに同名を要求するため、1セグメント目は
	// :key で共有し、各ハンドラで username / id として解釈する。
	r.GET("/lending/getAllDevices", h.GetAllDevices)
	r.GET("/lending/history", h.ListEvents)
	r.GET("/lending/:key", h.GetBorrowedDevices)       // :key = username
	r.GET("/lending/:key/:criterion", h.SearchDevices) // :key = search text
	r.POST("/lending/postDevice", h.AddDevice)
	r.POST("/lending/:key", h.RegisterUser) // :key = username
	r.PUT("/lending/:key", h.EditDevice)    // :key = device id
	r.PUT("/lending/:key/:id", h.ChangeBorrower)
}

// ---------- handlers ----------

// POST /lending/:key
func (h *Handler) RegisterUser(c *gin.Context) {
	if err := h.svc.RegisterUser(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusOK)
}

// GET /lending/:key/:criterion
// An empty result is 404: the client shows "nothing found" on that status.
func (h *Handler) SearchDevices(c *gin.Context) {
	devices, err := h.svc.Search(c.Request.Context(), c.Param("key"), c.Param("criterion"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if len(devices) == 0 {
		c.JSON(http.StatusNotFound, errorBody(CodeNotFound, "no matching devices"))
		return
	}
	c.JSON(http.StatusOK, toDeviceDTOs(devices))
}

// GET /lending/getAllDevices
// 未貸出の機器のみ返す（貸出中は一覧に出さない）。
func (h *Handler) GetAllDevices(c *gin.Context) {
	devices, err := h.svc.Available(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if len(devices) == 0 {
		c.JSON(http.StatusNotFound, errorBody(CodeNotFound, "no devices available"))
		return
	}
	c.JSON(http.StatusOK, toDeviceDTOs(devices))
}

// GET /lending/:key — the user's borrowed devices, 200 even when empty.
func (h *Handler) GetBorrowedDevices(c *gin.Context) {
	devices, err := h.svc.BorrowedBy(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, toDeviceDTOs(devices))
}

// PUT /lending/:key/:id — body is the bare action string "BORROW"|"RETURN".
func (h *Handler) ChangeBorrower(c *gin.Context) {
	username := c.Param("key")
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "device id must be an integer"))
		return
	}

	var action Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "body must be \"BORROW\" or \"RETURN\""))
		return
	}

	switch action {
	case ActionBorrow:
		err = h.svc.Borrow(c.Request.Context(), id, username)
	case ActionReturn:
		err = h.svc.Return(c.Request.Context(), id, username)
	}
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusOK)
}

// PUT /lending/:key — full device rewrite by id (admin flow).
func (h *Handler) EditDevice(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "device id must be an integer"))
		return
	}

	var dto DeviceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	device, err := dto.toDevice()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
		return
	}

	if err := h.svc.EditDevice(c.Request.Context(), id, device); err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusOK)
}

// POST /lending/postDevice
func (h *Handler) AddDevice(c *gin.Context) {
	var dto DeviceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	device, err := dto.toDevice()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
		return
	}

	if err := h.svc.AddDevice(c.Request.Context(), device); err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusOK)
}

// GET /lending/history
func (h *Handler) ListEvents(c *gin.Context) {
	f := EventFilter{
		Username: c.Query("username"),
		Limit:    parseIntDefault(c.Query("limit"), 50),
	}
	if v := c.Query("device_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			f.DeviceID = &id
		}
	}

	events, err := h.svc.ListEvents(c.Request.Context(), f)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	out := make([]LendEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toLendEventDTO(ev))
	}
	c.JSON(http.StatusOK, out)
}

// ---------- helpers ----------

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	if api, ok := err.(*APIError); ok {
		code, msg = api.Code, api.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
