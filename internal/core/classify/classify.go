// Package classify implements the rules_v1 episode classifier: a
// deterministic, explainable human/pet/unknown scorer, grounded on
// original_source/scripts/episodes_build.py's score_episode.
package classify

import (
	"fmt"
	"sort"

	epdom "aginosd/internal/services/episodes/domain"
)

// Version is stamped on every classified episode
const Version = "rules_v1"

const doorWindowSeconds = 60

// Score classifies ep in place-equivalent fashion, returning the class,
// the three class probabilities, and the explainable reason list. The
// caller assigns the result onto the Episode.
func Score(ep epdom.Episode) (
	class epdom.Class, pHuman, pPet, pUnknown float64, reasons []epdom.Reason, summary string,
) {
	durS := ep.DurationSeconds()
	rate := ep.EventRatePerMinute()

	var sH, sP, sU float64
	sU = 0.40 // unknown baseline so it wins when evidence is weak

	var rs []epdom.Reason

	if ep.DoorBeforeS != nil && *ep.DoorBeforeS <= doorWindowSeconds {
		w := 0.55
		sH += w
		rs = append(rs, epdom.Reason{Code: "DOOR_BEFORE_START", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"door_before_s": *ep.DoorBeforeS, "window_s": doorWindowSeconds}})
	}

	if ep.DoorDuring {
		w := 0.35
		sH += w
		rs = append(rs, epdom.Reason{Code: "DOOR_DURING_EPISODE", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"door_during": true}})
	}

	if ep.DoorAfterS != nil && *ep.DoorAfterS <= doorWindowSeconds {
		w := 0.20
		sH += w
		rs = append(rs, epdom.Reason{Code: "DOOR_AFTER_END", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"door_after_s": *ep.DoorAfterS, "window_s": doorWindowSeconds}})
	}

	if ep.CloseReason == epdom.CloseReasonTimeout {
		w := 0.25
		sU += w
		rs = append(rs, epdom.Reason{Code: "TIMEOUT_CLOSE", Direction: epdom.DirectionUnknown, Weight: w,
			Evidence: map[string]any{"timeout_s": ep.TimeoutS}})
	}

	doorNear := (ep.DoorBeforeS != nil && *ep.DoorBeforeS <= doorWindowSeconds) ||
		ep.DoorDuring ||
		(ep.DoorAfterS != nil && *ep.DoorAfterS <= doorWindowSeconds)

	if !doorNear && ep.SawPresenceOn && ep.PresenceOff >= 1 && durS <= 12 {
		w := 0.35
		sP += w
		rs = append(rs, epdom.Reason{Code: "PRESENCE_BLIP_VERY_SHORT_NO_DOOR", Direction: epdom.DirectionPet, Weight: w,
			Evidence: map[string]any{"duration_s": durS, "presence_on": ep.PresenceOn, "presence_off": ep.PresenceOff, "door_near": false}})
	}

	if !doorNear && durS <= 45 && rate >= 6.0 {
		w := 0.55
		sP += w
		rs = append(rs, epdom.Reason{Code: "SHORT_HIGH_RATE_NO_DOOR", Direction: epdom.DirectionPet, Weight: w,
			Evidence: map[string]any{"duration_s": durS, "event_rate_per_min": rate, "rate_threshold": 6.0, "door_near": false}})
	}

	if ep.SawPresenceOn && ep.PresenceOff >= 1 && durS >= 20 {
		w := 0.08
		sH += w
		rs = append(rs, epdom.Reason{Code: "COMPLETE_PRESENCE_EPISODE_DEFAULT", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"duration_s": durS, "presence_on": ep.PresenceOn, "presence_off": ep.PresenceOff}})
	}

	if ep.SawPresenceOn && ep.PresenceOff >= 1 && durS >= 120 {
		w := 0.25
		sH += w
		rs = append(rs, epdom.Reason{Code: "LONG_PRESENCE_ON_OFF", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"duration_s": durS, "presence_on": ep.PresenceOn, "presence_off": ep.PresenceOff}})
	}

	if ep.PresenceOn >= 1 && ep.Motion == 0 && rate <= 1.0 && durS >= 60 {
		w := 0.12
		sH += w
		rs = append(rs, epdom.Reason{Code: "PRESENCE_ONLY_LOW_RATE", Direction: epdom.DirectionHuman, Weight: w,
			Evidence: map[string]any{"event_rate_per_min": rate, "motion": ep.Motion}})
	}

	if rate >= 12.0 && durS <= 60 && !doorNear {
		w := 0.25
		sP += w
		rs = append(rs, epdom.Reason{Code: "VERY_HIGH_RATE_BURST", Direction: epdom.DirectionPet, Weight: w,
			Evidence: map[string]any{"event_rate_per_min": rate, "duration_s": durS, "door_near": false}})
	}

	rs = dedupeReasons(rs)

	total := sH + sP + sU
	if total <= 0 {
		pHuman, pPet, pUnknown = 0, 0, 1
	} else {
		pHuman, pPet, pUnknown = sH/total, sP/total, sU/total
	}

	class = epdom.ClassUnknown
	bestClass, bestP := epdom.ClassUnknown, pUnknown
	if pHuman > bestP {
		bestClass, bestP = epdom.ClassHuman, pHuman
	}
	if pPet > bestP {
		bestClass, bestP = epdom.ClassPet, pPet
	}

	if bestClass == epdom.ClassHuman || bestClass == epdom.ClassPet {
		margin := bestP - pUnknown
		if bestP >= 0.55 && margin >= 0.10 {
			class = bestClass
		} else {
			class = epdom.ClassUnknown
			rs = append(rs, epdom.Reason{Code: "LOW_CONFIDENCE", Direction: epdom.DirectionUnknown, Weight: 0.20,
				Evidence: map[string]any{"p_human": pHuman, "p_pet": pPet, "p_unknown": pUnknown}})
		}
	}

	pHuman, pPet, pUnknown = clamp01(pHuman), clamp01(pPet), clamp01(pUnknown)
	if z := pHuman + pPet + pUnknown; z > 0 {
		pHuman, pPet, pUnknown = pHuman/z, pPet/z, pUnknown/z
	}

	summary = summarize(rs)
	return class, pHuman, pPet, pUnknown, rs, summary
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// dedupeReasons drops exact (code, direction, evidence) duplicates; the
// original accumulated the PRESENCE_BLIP_VERY_SHORT_NO_DOOR rule and this
// dedup pass twice via a copy-paste artifact this port does not replicate.
func dedupeReasons(in []epdom.Reason) []epdom.Reason {
	type key struct {
		code, dir string
		ev        string
	}
	seen := make(map[key]struct{}, len(in))
	out := make([]epdom.Reason, 0, len(in))
	for _, r := range in {
		k := key{r.Code, string(r.Direction), evidenceRepr(r.Evidence)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func summarize(reasons []epdom.Reason) string {
	if len(reasons) == 0 {
		return "no_reasons"
	}
	n := len(reasons)
	if n > 3 {
		n = 3
	}
	out := reasons[0].Code
	for i := 1; i < n; i++ {
		out += ", " + reasons[i].Code
	}
	return out
}

// evidenceRepr gives a stable string form of an evidence map for dedup
// comparison; key order in the map iteration varies, so sort first.
func evidenceRepr(ev map[string]any) string {
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + fmt.Sprint(ev[k])
	}
	return out + "}"
}
