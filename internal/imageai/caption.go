package imageai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/social-scheduler/internal/jsonutil"
)

// Gemini models.
const (
	ModelText  = "gemini-3-flash-preview"
	ModelImage = "gemini-3-pro-image-preview"
)

const (
	// MaxCaptionImages matches the carousel limit.
	MaxCaptionImages = 10
	maxHashtags      = 12
)

// ErrNoImages is returned when a caption is requested without any images.
var ErrNoImages = errors.New("at least one image is required")

// ContentGenerator is the subset of genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// Image is an inline image sent to the model.
type Image struct {
	MIMEType string
	Data     []byte
}

// BusinessProfile shapes the caption's voice.
type BusinessProfile struct {
	Name     string `json:"businessName"`
	Niche    string `json:"niche"`
	Tone     string `json:"tone"`
	Audience string `json:"targetAudience"`
}

// Caption is a generated caption and its hashtags, without leading '#'.
type Caption struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

const captionSystemPrompt = `You are a professional social media content creator. You write authentic, engaging captions for Instagram and Facebook that drive meaningful interaction. Always respond with JSON of the form {"caption": "...", "hashtags": ["...", ...]}.`

// CaptionGenerator writes captions for images with Gemini.
type CaptionGenerator struct {
	models ContentGenerator
	model  string
}

// NewCaptionGenerator creates a generator using the default text model.
func NewCaptionGenerator(models ContentGenerator) *CaptionGenerator {
	return &CaptionGenerator{models: models, model: ModelText}
}

// Generate writes a caption for one image, or a carousel caption for several.
func (g *CaptionGenerator) Generate(ctx context.Context, images []Image, profile BusinessProfile) (*Caption, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(images) > MaxCaptionImages {
		return nil, fmt.Errorf("%w: at most %d images", ErrInvalidImage, MaxCaptionImages)
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	parts = append(parts, &genai.Part{Text: BuildCaptionPrompt(profile, len(images))})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: captionSystemPrompt}}},
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Caption generation failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUpstream)
	}
	text := resp.Text()

	caption := ParseCaption(text)
	if caption.Caption == "" {
		return nil, fmt.Errorf("%w: model returned no caption", ErrUpstream)
	}
	log.Info().
		Int("images", len(images)).
		Int("captionLength", len(caption.Caption)).
		Int("hashtags", len(caption.Hashtags)).
		Dur("duration", time.Since(start)).
		Msg("Caption generated")
	return caption, nil
}

// BuildCaptionPrompt returns the user prompt for n images.
func BuildCaptionPrompt(p BusinessProfile, n int) string {
	var sb strings.Builder
	if n > 1 {
		fmt.Fprintf(&sb, "Write one caption for a carousel post of these %d images. Tie them together as a single story.\n", n)
	} else {
		sb.WriteString("Write a caption for a post of this image.\n")
	}
	fmt.Fprintf(&sb, "Business: %s\n", orDefault(p.Name, "a small business"))
	fmt.Fprintf(&sb, "Niche: %s\n", orDefault(p.Niche, "general"))
	fmt.Fprintf(&sb, "Tone: %s\n", orDefault(p.Tone, "professional and friendly"))
	fmt.Fprintf(&sb, "Target audience: %s\n", orDefault(p.Audience, "general audience"))
	sb.WriteString("Requirements:\n")
	sb.WriteString("- Describe what is actually in the image\n")
	sb.WriteString("- Include relevant emojis and a call to action\n")
	sb.WriteString("- Keep it concise, under 2200 characters\n")
	fmt.Fprintf(&sb, "- Suggest up to %d relevant hashtags\n", maxHashtags)
	return sb.String()
}

var hashtagPattern = regexp.MustCompile(`#\w+`)

// ParseCaption reads the model's JSON answer. When the answer is not JSON,
// hashtags are taken from the text and the rest becomes the caption.
func ParseCaption(text string) *Caption {
	c, err := jsonutil.ParseJSON[Caption](text)
	if err != nil {
		log.Debug().Err(err).Msg("Caption response is not JSON; extracting hashtags from text")
		tags := hashtagPattern.FindAllString(text, -1)
		c = Caption{
			Caption:  strings.Join(strings.Fields(hashtagPattern.ReplaceAllString(text, "")), " "),
			Hashtags: tags,
		}
	}
	c.Caption = strings.TrimSpace(c.Caption)
	c.Hashtags = normalizeHashtags(c.Hashtags)
	return &c
}

func normalizeHashtags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimLeft(strings.TrimSpace(t), "#")
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
