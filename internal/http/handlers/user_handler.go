// README: Account handlers: registration and password login.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coursier/internal/modules/user"
)

// TokenIssuer signs session tokens after a successful login.
type TokenIssuer interface {
	Issue(uid, role string) (string, time.Time, error)
}

type UserHandler struct {
	users  *user.Service
	issuer TokenIssuer
}

func NewUserHandler(users *user.Service, issuer TokenIssuer) *UserHandler {
	return &UserHandler{users: users, issuer: issuer}
}

type registerReq struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterCommand{
		Role:     user.Role(req.Role),
		Email:    req.Email,
		Phone:    req.Phone,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, userJSON(u))
}

type loginReq struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *UserHandler) Login(c *gin.Context) {
	if h.issuer == nil {
		writeError(c, http.StatusNotImplemented, "password login is disabled")
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	token, exp, err := h.issuer.Issue(u.ID.String(), string(u.Role))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"token":      token,
		"expires_at": exp,
		"user":       userJSON(u),
	})
}
