package question

import "testing"

func TestClassifyBusinessModel(t *testing.T) {
	tests := []struct {
		name      string
		nav       []string
		claims    []string
		wantModel string
		minConf   float64
	}{
		{
			name:      "saas markers dominate",
			nav:       []string{"Pricing", "Docs", "Integrations", "Sign in"},
			claims:    []string{"Start your free trial today"},
			wantModel: "saas",
			minConf:   0.8,
		},
		{
			name:      "ecommerce markers dominate",
			nav:       []string{"Shop", "Cart", "Shipping", "Returns"},
			wantModel: "ecommerce",
			minConf:   0.8,
		},
		{
			name:      "services markers dominate",
			nav:       []string{"Services", "Book", "Locations"},
			claims:    []string{"Request a free quote"},
			wantModel: "services",
			minConf:   0.8,
		},
		{
			name:      "mixed signals reduce confidence",
			nav:       []string{"Pricing", "Shop", "Docs", "Cart"},
			wantModel: "ecommerce", // two hits each, lexicographic tiebreak
			minConf:   0.4,
		},
		{
			name:      "no markers yields no classification",
			nav:       []string{"Home", "Blog", "Contact"},
			wantModel: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Signals{NavLabels: tt.nav, HomepageClaims: tt.claims}
			model, conf := ClassifyBusinessModel(sig)
			if model != tt.wantModel {
				t.Fatalf("model = %q, want %q", model, tt.wantModel)
			}
			if tt.wantModel == "" {
				if conf != 0 {
					t.Errorf("confidence = %v, want 0", conf)
				}
				return
			}
			if conf < tt.minConf || conf > 1 {
				t.Errorf("confidence = %v, want in [%v, 1]", conf, tt.minConf)
			}
		})
	}
}

func TestClassifyBusinessModelDeterministic(t *testing.T) {
	sig := Signals{NavLabels: []string{"Pricing", "Shop"}}
	model1, conf1 := ClassifyBusinessModel(sig)
	for i := 0; i < 10; i++ {
		model2, conf2 := ClassifyBusinessModel(sig)
		if model2 != model1 || conf2 != conf1 {
			t.Fatalf("classification changed between calls: (%q, %v) vs (%q, %v)",
				model1, conf1, model2, conf2)
		}
	}
}
