package services

import (
  "context"
  "bytes"
  "encoding/json"
  "fmt"
  "image/color"
  "math/rand"
  "os"
  "path/filepath"
  "strings"

  "github.com/disintegration/imaging"
  "github.com/fogleman/gg"
  "github.com/golang/freetype/truetype"
  "golang.org/x/image/font"
  "golang.org/x/image/font/gofont/goregular"

  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

type AvatarService interface {
  CreateAndStoreUserAvatar(ctx context.Context, user *types.User) error
  GenerateUserAvatar(ctx context.Context, user *types.User) (bytes.Buffer, error)
}

type avatarService struct {
  log             *logger.Logger
  avatarDir       string
  publicPrefix    string
  bgColors        []color.NRGBA
  fontFace        font.Face
}

var defaultAvatarColors = []color.NRGBA{
  {R: 0x3b, G: 0x82, B: 0xf6, A: 0xff},
  {R: 0x8b, G: 0x5c, B: 0xf6, A: 0xff},
  {R: 0xec, G: 0x48, B: 0x99, A: 0xff},
  {R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff},
  {R: 0x10, G: 0xb9, B: 0x81, A: 0xff},
  {R: 0xef, G: 0x44, B: 0x44, A: 0xff},
}

func NewAvatarService(log *logger.Logger, avatarDir, publicPrefix string) (AvatarService, error) {
  serviceLog := log.With("service", "AvatarService")

  if avatarDir == "" {
    avatarDir = "./assets/avatars"
  }
  if err := os.MkdirAll(avatarDir, 0o755); err != nil {
    return nil, fmt.Errorf("Failed to create avatar dir %q: %w", avatarDir, err)
  }

  //1) Get Avatar Colors (optional override file)
  bgColors := defaultAvatarColors
  if colorsJSONPath := os.Getenv("AVATAR_COLORS_JSON_PATH"); colorsJSONPath != "" {
    serviceLog.Info("Loading avatar colors from JSON file", "path", colorsJSONPath)
    loaded, err := loadColorsFromFile(colorsJSONPath)
    if err != nil {
      return nil, fmt.Errorf("could not load avatar colors: %w", err)
    }
    bgColors = loaded
  }

  //2) Get Font (ships with a bundled default so local installs need no assets)
  var face font.Face
  var err error
  if fontPath := os.Getenv("AVATAR_FONT"); fontPath != "" {
    serviceLog.Info("Loading avatar font from TTF file", "font", fontPath)
    face, err = loadFontFace(fontPath, 206)
  } else {
    face, err = builtinFontFace(206)
  }
  if err != nil {
    return nil, fmt.Errorf("could not load avatar font: %w", err)
  }

  return &avatarService{
    log:          serviceLog,
    avatarDir:    avatarDir,
    publicPrefix: strings.TrimRight(publicPrefix, "/"),
    bgColors:     bgColors,
    fontFace:     face,
  }, nil
}

func (as *avatarService) CreateAndStoreUserAvatar(ctx context.Context, user *types.User) error {
  buf, err := as.GenerateUserAvatar(ctx, user)
  if err != nil {
    return err
  }
  fileName := fmt.Sprintf("%s.png", user.ID.String())
  fullPath := filepath.Join(as.avatarDir, fileName)
  if err := os.WriteFile(fullPath, buf.Bytes(), 0o644); err != nil {
    return fmt.Errorf("Failed to write user avatar: %w", err)
  }

  // Small thumbnail alongside the master for chat list rendering.
  img, err := imaging.Decode(bytes.NewReader(buf.Bytes()))
  if err != nil {
    return fmt.Errorf("Failed to decode avatar for thumbnail: %w", err)
  }
  thumb := imaging.Fit(img, 64, 64, imaging.Lanczos)
  thumbPath := filepath.Join(as.avatarDir, fmt.Sprintf("%s_64.png", user.ID.String()))
  if err := imaging.Save(thumb, thumbPath); err != nil {
    return fmt.Errorf("Failed to write avatar thumbnail: %w", err)
  }

  user.AvatarURL = as.publicPrefix + "/" + fileName
  return nil
}

func (as *avatarService) GenerateUserAvatar(ctx context.Context, user *types.User) (bytes.Buffer, error) {
  const size = 512

  //1) Create drawing context
  dc := gg.NewContext(size, size)

  //2) Circular mask so final image is round
  dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
  dc.Clip()

  //3) Solid background color
  base := as.bgColors[rand.Intn(len(as.bgColors))]
  dc.SetColor(base)
  dc.DrawRectangle(0, 0, float64(size), float64(size))
  dc.Fill()

  //4) Compute user initials
  initials := computeInitials(user.Username, user.Email)

  //5) Set font & measure text
  dc.SetFontFace(as.fontFace)
  tw, th := dc.MeasureString(initials)
  cx, cy := float64(size)/2, float64(size)/2

  //6) Draw main white text
  dc.SetColor(color.White)
  dc.DrawString(initials, cx-(tw/2)+5, cy+(th/2)-10)

  //7) Export to PNG
  var buf bytes.Buffer
  if err := dc.EncodePNG(&buf); err != nil {
    return buf, fmt.Errorf("failed to encode PNG: %w", err)
  }
  return buf, nil
}

//----------------------------------------------------------------------------------------
// Helpers
//----------------------------------------------------------------------------------------
func computeInitials(username, email string) string {
  name := username
  if name == "" {
    name = email
  }
  if name == "" {
    return "?"
  }
  parts := strings.FieldsFunc(name, func(r rune) bool {
    return r == ' ' || r == '.' || r == '_' || r == '-'
  })
  if len(parts) >= 2 {
    return strings.ToUpper(parts[0][:1] + parts[1][:1])
  }
  if len(name) >= 2 {
    return strings.ToUpper(name[:2])
  }
  return strings.ToUpper(name[:1])
}

func loadColorsFromFile(jsonPath string) ([]color.NRGBA, error) {
  data, err := os.ReadFile(jsonPath)
  if err != nil {
    return nil, fmt.Errorf("read file error: %w", err)
  }
  var colors []color.NRGBA
  if err := json.Unmarshal(data, &colors); err != nil {
    return nil, fmt.Errorf("json unmarshal error: %w", err)
  }
  return colors, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
  fontBytes, err := os.ReadFile(fontPath)
  if err != nil {
    return nil, fmt.Errorf("failed to read font file: %w", err)
  }
  return faceFromBytes(fontBytes, size)
}

func builtinFontFace(size float64) (font.Face, error) {
  return faceFromBytes(goregular.TTF, size)
}

func faceFromBytes(fontBytes []byte, size float64) (font.Face, error) {
  parsedFont, err := truetype.Parse(fontBytes)
  if err != nil {
    return nil, fmt.Errorf("failed to parse TTF: %w", err)
  }
  face := truetype.NewFace(parsedFont, &truetype.Options{
    Size:     size,
    DPI:      72,
    Hinting:  font.HintingNone,
  })
  return face, nil
}
