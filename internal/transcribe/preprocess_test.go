package transcribe

import "testing"

func TestCleanSegmentText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain_text_passes_through", "let's review the roadmap", "let's review the roadmap"},
		{"whitespace_is_collapsed", "  two   spaced    words ", "two spaced words"},
		{"bracket_annotation_is_stripped", "[BLANK_AUDIO]", ""},
		{"paren_annotation_is_stripped", "(wind blowing) carry on", "carry on"},
		{"star_annotation_is_stripped", "*applause* thank you all for coming", "thank you all for coming"},
		{"annotation_inside_speech", "so [Music] as I was saying", "so as I was saying"},
		{"filler_thanks_for_watching", "Thanks for watching!", ""},
		{"filler_bare_you", "you", ""},
		{"filler_amara_credit", "Subtitles by the Amara.org community", ""},
		{"filler_with_trailing_punctuation", "Thank you.", ""},
		{"filler_word_inside_real_speech_survives", "thank you for the update on billing", "thank you for the update on billing"},
		{"empty_input", "", ""},
		{"only_whitespace", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanSegmentText(tc.in); got != tc.want {
				t.Errorf("CleanSegmentText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
