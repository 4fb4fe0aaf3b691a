package imageai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/social-scheduler/internal/media"
)

// Product categories recognized by the classifier.
const (
	CategoryFashion = "fashion"
	CategoryTech    = "tech"
	CategoryHome    = "home"
	CategoryKids    = "kids"
	CategoryPremium = "premium"
)

// enhanceMaxDimension is the longest edge sent to the image model.
const enhanceMaxDimension = 1024

var categories = []string{CategoryFashion, CategoryTech, CategoryHome, CategoryKids, CategoryPremium}

// styleLibrary maps a category to the scene the product is placed in.
var styleLibrary = map[string]string{
	CategoryFashion: "minimal, elegant runway-inspired background",
	CategoryTech:    "modern, sleek, high-tech setting with subtle gradients",
	CategoryHome:    "cozy, well-lit indoor home setting with warm tones",
	CategoryKids:    "playful, colorful background with soft, child-friendly decor",
	CategoryPremium: "luxurious, high-end setting with elegant decor and lighting",
}

// Enhanced is the result of an enhancement.
type Enhanced struct {
	Category string
	MIMEType string
	Data     []byte
}

// Enhancer restages product photos for promotional posts.
type Enhancer struct {
	models     ContentGenerator
	textModel  string
	imageModel string
}

// NewEnhancer creates an Enhancer using the default models.
func NewEnhancer(models ContentGenerator) *Enhancer {
	return &Enhancer{models: models, textModel: ModelText, imageModel: ModelImage}
}

// Enhance classifies the product in data and asks the image model for a
// promotional version in that category's style. description is optional.
func (e *Enhancer) Enhance(ctx context.Context, data []byte, description string) (*Enhanced, error) {
	start := time.Now()
	src, _, _, err := media.Thumbnail(data, enhanceMaxDimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	img := &genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: src}}

	category := e.classify(ctx, img)

	prompt := EnhancementPrompt(category, description)
	config := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{img, {Text: prompt}}}}
	resp, err := e.models.GenerateContent(ctx, e.imageModel, contents, config)
	if err != nil {
		log.Error().Err(err).Str("category", category).Msg("Image enhancement failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out := firstImage(resp)
	if out == nil {
		return nil, fmt.Errorf("%w: no image returned", ErrUpstream)
	}
	log.Info().
		Str("category", category).
		Int("inputBytes", len(src)).
		Int("outputBytes", len(out.Data)).
		Dur("duration", time.Since(start)).
		Msg("Image enhanced")
	return &Enhanced{Category: category, MIMEType: out.MIMEType, Data: out.Data}, nil
}

// classify falls back to fashion when the model fails or answers off-list.
func (e *Enhancer) classify(ctx context.Context, img *genai.Part) string {
	prompt := "Classify the product in this image into exactly one category: " +
		strings.Join(categories, ", ") + ". Answer with the category only."
	resp, err := e.models.GenerateContent(ctx, e.textModel,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{img, {Text: prompt}}}}, nil)
	if err != nil || resp == nil {
		log.Warn().Err(err).Msg("Product classification failed; using default category")
		return CategoryFashion
	}
	return NormalizeCategory(resp.Text())
}

// NormalizeCategory maps a free-form model answer to a known category.
func NormalizeCategory(answer string) string {
	answer = strings.ToLower(answer)
	for _, c := range categories {
		if strings.Contains(answer, c) {
			return c
		}
	}
	return CategoryFashion
}

// EnhancementPrompt builds the edit instruction for a category.
func EnhancementPrompt(category, description string) string {
	style, ok := styleLibrary[category]
	if !ok {
		style = styleLibrary[CategoryFashion]
	}
	prompt := "Create an Instagram-ready promotional image from the provided product photo. " +
		"Keep the product's exact colors, textures and proportions. " +
		"If it is on a mannequin or stand, replace that with a realistic model in the same pose. " +
		"Set it in a " + style + " with professional lighting and natural shadows."
	if d := strings.TrimSpace(description); d != "" {
		prompt += " Product details: " + d
	}
	return prompt
}

func firstImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return p.InlineData
			}
		}
	}
	return nil
}
