package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/udisondev/shortid/internal/model"
)

// ContextWithTimeout создаёт context с timeout и автоматически отменяет его при завершении теста.
func ContextWithTimeout(tb testing.TB, d time.Duration) context.Context {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	tb.Cleanup(cancel)
	return ctx
}

// LongID возвращает детерминированный тестовый идентификатор.
// Старшие биты зависят от n, чтобы идентификаторы попадали в разные файлы.
func LongID(n uint64) model.LongID {
	return model.NewLongID(n<<52|n, ^n)
}
