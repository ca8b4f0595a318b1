// Command uwenhance restores underwater images with a trained
// checkpoint: every image under -in is enhanced and written to -out.
package main

import (
	"flag"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oceanlens/uwagg/uwagg"
)

func main() {
	backbonePath := flag.String("backbone", "", "GGUF backbone weights file")
	checkpoint := flag.String("checkpoint", "", "Trained checkpoint file")
	channels := flag.Int("channels", 64, "Model channel width")
	in := flag.String("in", "", "Input image file or directory")
	out := flag.String("out", "enhanced", "Output directory")

	flag.Parse()
	if *backbonePath == "" || *checkpoint == "" || *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	bb, err := uwagg.LoadBackbone(*backbonePath)
	if err != nil {
		log.Fatalf("load backbone: %v", err)
	}
	ck, err := uwagg.LoadCheckpoint(*checkpoint)
	if err != nil {
		log.Fatalf("load checkpoint: %v", err)
	}
	model, err := uwagg.Restore(bb, *channels, ck)
	if err != nil {
		log.Fatalf("restore model: %v", err)
	}
	log.Printf("checkpoint=%s epoch=%d", *checkpoint, ck.Epoch)

	paths, err := listImages(*in)
	if err != nil {
		log.Fatalf("scan inputs: %v", err)
	}
	if len(paths) == 0 {
		log.Fatalf("no images under %s", *in)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	for _, path := range paths {
		start := time.Now()
		img, err := readImage(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		restored := uwagg.Enhance(model, img)

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
		dst := filepath.Join(*out, name)
		if err := writePNG(dst, restored); err != nil {
			log.Fatalf("write %s: %v", dst, err)
		}
		log.Printf("image=%s out=%s elapsed=%s", filepath.Base(path), dst, time.Since(start).Round(time.Millisecond))
	}
}

func listImages(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(root, e.Name()))
		}
	}
	return paths, nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
