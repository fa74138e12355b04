//go:build dlib

package main

import (
	"context"

	"github.com/dtroode/faceid-server/internal/extractor/dlib"
	"github.com/dtroode/faceid-server/internal/model"
)

func loadDlib(ctx context.Context, modelDir string) (model.Extractor, error) {
	return dlib.Load(ctx, modelDir)
}
