package config

import (
	"fmt"
	"strings"
)

const (
	SinkFile = "file"
	SinkPlay = "play"
)

func NormalizeSink(raw string) (string, error) {
	sink := strings.ToLower(strings.TrimSpace(raw))
	if sink == "" {
		sink = SinkFile
	}
	switch sink {
	case SinkFile, SinkPlay:
		return sink, nil
	case "wav":
		return SinkFile, nil
	default:
		return "", fmt.Errorf(
			"invalid sink %q (expected %s|%s|wav)",
			raw,
			SinkFile,
			SinkPlay,
		)
	}
}
