package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/polls"
)

type PollHandler struct {
	polls  *polls.Service
	logger *zap.Logger
}

// CreatePoll creates a poll post with its options
func (h *PollHandler) CreatePoll(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.CreatePollRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	poll, err := h.polls.Create(c.Request.Context(), polls.CreateInput{
		AuthorID:       userID,
		Title:          input.Title,
		Body:           input.Body,
		Category:       input.Category,
		MultipleChoice: input.MultipleChoice,
		ExpiresAt:      input.ExpiresAt,
		Options:        input.Options,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// GetPoll returns a poll with its options
func (h *PollHandler) GetPoll(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	poll, err := h.polls.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// UpdatePoll changes poll settings (owner only)
func (h *PollHandler) UpdatePoll(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.PollUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	poll, err := h.polls.Update(c.Request.Context(), id, userID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// DeletePoll deletes a poll and its post (owner only)
func (h *PollHandler) DeletePoll(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.polls.Delete(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll deleted successfully"})
}

// Vote records the caller's ballot and returns the results
func (h *PollHandler) Vote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.VotePollRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.polls.Vote(c.Request.Context(), id, userID, input.OptionIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetResults returns the current tally
func (h *PollHandler) GetResults(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	results, err := h.polls.Results(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetOptions lists the options of a poll
func (h *PollHandler) GetOptions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	options, err := h.polls.Options(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// UpdateOption renames an option (owner only)
func (h *PollHandler) UpdateOption(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	optionID, ok := paramID(c, "optionId")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	option, err := h.polls.UpdateOption(c.Request.Context(), id, optionID, userID, input.Text)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, option)
}

// DeleteOption removes an option (owner only)
func (h *PollHandler) DeleteOption(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	optionID, ok := paramID(c, "optionId")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.polls.DeleteOption(c.Request.Context(), id, optionID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Option deleted successfully"})
}
