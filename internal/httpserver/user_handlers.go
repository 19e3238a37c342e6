package httpserver

import (
	"net/http"

	"winechat/internal/service"
)

// @Summary      Get user
// @Description  Public identity of a user
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        userID path int true "User ID"
// @Success      200  {object}  domain.UserSummary
// @Failure      404  {object}  errorResponse
// @Router       /users/{userID} [get]
func handleGetUser(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "userID")
		if !ok {
			return
		}
		user, err := userSvc.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.Summary())
	}
}
