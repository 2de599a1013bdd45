package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/videolens/videolens-backend/internal/app"
	"github.com/videolens/videolens-backend/internal/provenance"
	"github.com/videolens/videolens-backend/internal/types"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// Backfills file hashes for videos that never completed their hash task, then
// re-runs task fan-out so dependent ML tasks get scheduled.
func main() {
	var videos idList
	var dryRun bool
	var limit int
	flag.Var(&videos, "video", "video id to backfill (repeatable; default: every unhashed video)")
	flag.BoolVar(&dryRun, "dry-run", false, "print planned hashes without writing")
	flag.IntVar(&limit, "limit", 0, "limit number of videos processed")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()

	var rows []*types.Video
	if len(videos) > 0 {
		for _, s := range videos {
			id, parseErr := uuid.Parse(strings.TrimSpace(s))
			if parseErr != nil || id == uuid.Nil {
				continue
			}
			v, getErr := application.Repos.Videos.GetByID(ctx, nil, id)
			if getErr != nil {
				fmt.Printf("load video %s: %v\n", id, getErr)
				continue
			}
			rows = append(rows, v)
		}
	} else {
		err = application.DB.DB().WithContext(ctx).
			Where("file_hash IS NULL OR file_hash = ''").
			Find(&rows).Error
		if err != nil {
			fmt.Printf("load videos: %v\n", err)
			os.Exit(1)
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	hashed := 0
	for _, video := range rows {
		if video == nil || video.ID == uuid.Nil {
			continue
		}
		if video.FileHash != nil && *video.FileHash != "" {
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] hash video_id=%s path=%s\n", video.ID, video.FilePath)
			continue
		}
		hash, hashErr := provenance.InputHash(video.FilePath)
		if hashErr != nil {
			fmt.Printf("hash failed for video %s (%s): %v\n", video.ID, video.FilePath, hashErr)
			continue
		}
		updates := map[string]interface{}{"file_hash": hash}
		if video.Status == types.VideoStatusDiscovered {
			updates["status"] = types.VideoStatusHashed
		}
		if err := application.Repos.Videos.UpdateFields(ctx, nil, video.ID, updates); err != nil {
			fmt.Printf("update failed for video %s: %v\n", video.ID, err)
			continue
		}
		if _, err := application.Services.Orchestrator.EnsureTasksForVideo(ctx, nil, video.ID); err != nil {
			fmt.Printf("task fan-out failed for video %s: %v\n", video.ID, err)
			continue
		}
		hashed++
		fmt.Printf("hashed video_id=%s hash=%s\n", video.ID, hash)
	}

	fmt.Printf("done; hashed=%d\n", hashed)
}
