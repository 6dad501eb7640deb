// Command glesmip uploads an image as a texture, generates its mipmap chain
// and writes every level as a PNG file.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres"
)

func main() {
	var (
		input    = flag.String("input", "", "input image (PNG, JPEG, BMP, TIFF or WebP)")
		outDir   = flag.String("out", ".", "output directory")
		software = flag.Bool("software", false, "generate mipmaps on the CPU")
		budgetMB = flag.Uint64("budget", 64, "device memory budget in MB")
		verbose  = flag.Bool("v", false, "log residency diagnostics")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		glesres.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	if err := run(*input, *outDir, *software, *budgetMB); err != nil {
		log.Fatal(err)
	}
}

func run(input, outDir string, software bool, budgetMB uint64) error {
	img, err := loadImage(input)
	if err != nil {
		return fmt.Errorf("load %s: %w", input, err)
	}

	c, err := glesres.NewContext(
		glesres.WithHardwareMipmaps(!software),
		glesres.WithMemoryBudget(budgetMB<<20),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	n, err := writeMipmaps(c, img, outDir, base)
	if err != nil {
		return err
	}
	log.Printf("Wrote %d levels to %s (%s)\n", n, outDir, c.MemoryStats())
	return nil
}

// loadImage decodes path and scales it to the next power of two in each
// dimension, as mipmap generation requires.
func loadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := ceilPow2(b.Dx()), ceilPow2(b.Dy())
	if w > glesres.MaxTextureSize || h > glesres.MaxTextureSize {
		return nil, fmt.Errorf("%dx%d image exceeds the %d texel limit", b.Dx(), b.Dy(), glesres.MaxTextureSize)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst, nil
}

func ceilPow2(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

func writeMipmaps(c *glesres.Context, img *image.RGBA, dir, base string) (int, error) {
	tex := c.GenTextures(1)
	c.BindTexture(glesres.Texture2D, tex[0])
	w, h := img.Rect.Dx(), img.Rect.Dy()
	c.TexImage2D(glesres.Image2D, 0, gputypes.TextureFormatRGBA8Unorm, w, h, img.Pix)
	c.GenerateMipmap(glesres.Texture2D)
	if e := c.GetError(); e != glesres.NoError {
		return 0, fmt.Errorf("upload: %s", e)
	}

	n := 0
	for level := range glesres.MaxTextureLevels {
		lv, ok := c.TexLevelParameter(glesres.Image2D, level)
		if !ok {
			break
		}
		pix := c.GetTexImage(glesres.Image2D, level)
		if e := c.GetError(); e != glesres.NoError {
			return n, fmt.Errorf("read level %d: %s", level, e)
		}
		out := &image.RGBA{Pix: pix, Stride: lv.Width * 4, Rect: image.Rect(0, 0, lv.Width, lv.Height)}
		name := filepath.Join(dir, fmt.Sprintf("%s_level%d.png", base, level))
		if err := savePNG(name, out); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
