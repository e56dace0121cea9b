package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	raw := strings.TrimSpace(c.Params(key))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s parameter", key)
	}

	return uint(parsed), nil
}

func validationMessages(err error) []string {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(invalid))
	for _, fieldError := range invalid {
		messages = append(messages, fmt.Sprintf("%s failed %s validation", fieldError.Field(), fieldError.Tag()))
	}

	return messages
}
