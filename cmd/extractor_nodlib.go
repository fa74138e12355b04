//go:build !dlib

package main

import (
	"context"
	"errors"

	"github.com/dtroode/faceid-server/internal/model"
)

func loadDlib(context.Context, string) (model.Extractor, error) {
	return nil, errors.New("dlib extractor not compiled in, rebuild with -tags dlib")
}
