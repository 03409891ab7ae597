package captcha

import "time"

func newCapSolver(apiKey string, opts Options) *taskService {
	return &taskService{
		name:    CapSolverName,
		apiKey:  apiKey,
		baseURL: orDefault(opts.BaseURL, "https://api.capsolver.com"),
		poll:    orDefaultDuration(opts.PollInterval, time.Second),
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
		taskTypes: map[string]string{
			HCaptcha:  "HCaptchaTaskProxyLess",
			ReCaptcha: "ReCaptchaV2TaskProxyLess",
		},
	}
}

// 2captcha recommends 5s polling.
func newTwoCaptcha(apiKey string, opts Options) *taskService {
	return &taskService{
		name:    TwoCaptchaName,
		apiKey:  apiKey,
		baseURL: orDefault(opts.BaseURL, "https://api.2captcha.com"),
		poll:    orDefaultDuration(opts.PollInterval, 5*time.Second),
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
		taskTypes: map[string]string{
			HCaptcha:  "HCaptchaTaskProxyless",
			ReCaptcha: "RecaptchaV2TaskProxyless",
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
