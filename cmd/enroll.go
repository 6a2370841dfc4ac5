package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doggobot/sentry/internal/embeddings"
	"github.com/doggobot/sentry/internal/roster"
)

var enrollOpts struct {
	Name       string
	Dir        string
	FaceModels string
	Workers    int
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a friendly identity from a directory of reference photos",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entries, err := os.ReadDir(enrollOpts.Dir)
		if err != nil {
			return fmt.Errorf("failed to read photo directory: %w", err)
		}

		var photos []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png":
				photos = append(photos, filepath.Join(enrollOpts.Dir, e.Name()))
			}
		}
		if len(photos) == 0 {
			return fmt.Errorf("no reference photos found in %s", enrollOpts.Dir)
		}

		embedder, err := embeddings.NewFaceEmbedder(enrollOpts.FaceModels)
		if err != nil {
			return err
		}
		defer embedder.Close()

		svc := embeddings.NewService(embedder, enrollOpts.Workers)
		defer svc.Close()

		var vecs [][]float32
		for _, photo := range photos {
			vec, err := svc.EmbedSync(ctx, photo)
			if err != nil {
				Logger.Warn("failed to embed photo", "path", photo, "error", err)
				continue
			}
			vecs = append(vecs, vec)
			Logger.Info("embedded reference photo", "path", photo, "dims", len(vec))
		}
		if len(vecs) == 0 {
			return fmt.Errorf("no photo could be embedded")
		}

		rosterStore := roster.NewStore(DB.Pool(), Logger, time.Minute)
		if err := rosterStore.Enroll(ctx, enrollOpts.Name, vecs); err != nil {
			return fmt.Errorf("failed to enroll %s: %w", enrollOpts.Name, err)
		}

		fmt.Printf("Enrolled %s with %d embeddings from %d photos\n",
			enrollOpts.Name, len(vecs), len(photos))
		return nil
	},
}

func init() {
	f := enrollCmd.Flags()
	f.StringVar(&enrollOpts.Name, "name", "", "identity name (required)")
	f.StringVar(&enrollOpts.Dir, "dir", "", "directory of reference photos (required)")
	f.StringVar(&enrollOpts.FaceModels, "face-models", getEnv("FACE_MODELS_DIR", "models"),
		"directory holding the dlib face models")
	f.IntVar(&enrollOpts.Workers, "workers", 4, "embedding worker count")
	enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(enrollCmd)
}
