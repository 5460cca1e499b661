package log

import (
	"log/slog"
	"time"
)

func RunID[T ~string](id T) slog.Attr {
	return slog.String("run_id", string(id))
}

func NodeID[T ~string](id T) slog.Attr {
	return slog.String("node_id", string(id))
}

func NodeType[T ~string](t T) slog.Attr {
	return slog.String("node_type", string(t))
}

func Handle[T ~string](handle T) slog.Attr {
	return slog.String("handle", string(handle))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
