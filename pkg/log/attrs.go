package log

import "log/slog"

func WorkflowID[T ~string](id T) slog.Attr {
	return slog.String("workflow_id", string(id))
}

func Workflow[T ~string](name T) slog.Attr {
	return slog.String("workflow", string(name))
}

func Queue[T ~string](name T) slog.Attr {
	return slog.String("queue", string(name))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Executor[T ~string](id T) slog.Attr {
	return slog.String("executor", string(id))
}

func Step[T ~string](name T, index int) slog.Attr {
	return slog.Group("step",
		slog.String("name", string(name)),
		slog.Int("index", index))
}

func StepIndex(index int) slog.Attr {
	return slog.Int("step_index", index)
}

func Topic[T ~string](topic T) slog.Attr {
	return slog.String("topic", string(topic))
}

func Key[T ~string](key T) slog.Attr {
	return slog.String("key", string(key))
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
