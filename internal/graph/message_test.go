package graph

import "testing"

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		caption  string
		hashtags []string
		want     string
	}{
		{"  Summer sale  ", nil, "Summer sale"},
		{"Summer sale", []string{"fashion", "#style", " deals "}, "Summer sale #fashion #style #deals"},
		{"Summer sale", []string{"", "#"}, "Summer sale"},
		{"", []string{"only"}, "#only"},
	}
	for _, tt := range tests {
		if got := FormatMessage(tt.caption, tt.hashtags); got != tt.want {
			t.Errorf("FormatMessage(%q, %v) = %q, want %q", tt.caption, tt.hashtags, got, tt.want)
		}
	}
}

func TestIsVideoURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://bucket.s3.amazonaws.com/media/u/1/clip.mp4?X-Amz-Signature=abc", true},
		{"media/u/1/CLIP.MOV", true},
		{"https://cdn.example.com/v.webm", true},
		{"https://cdn.example.com/v.3gp", true},
		{"https://cdn.example.com/photo.jpg", false},
		{"https://cdn.example.com/photo.jpg?name=x.mp4", false},
		{"no-extension", false},
	}
	for _, tt := range tests {
		if got := IsVideoURL(tt.in); got != tt.want {
			t.Errorf("IsVideoURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
