package dataset

import (
	"math"
	"math/rand"

	"glucosense/internal/domain"
)

// Synthetic generates a balanced corpus of n plausible patients, half of them
// diabetic, deterministically from seed. Diabetic rows skew towards higher
// glucose, age and BMI, so a classifier can learn the classes.
func Synthetic(n int, seed int64) *domain.Corpus {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]domain.LabeledRecord, n)
	for i := 0; i < n; i++ {
		diabetic := i % 2
		rows[i] = domain.LabeledRecord{Record: syntheticPatient(rng, diabetic == 1), Diabetic: diabetic}
	}
	return domain.NewCorpus(rows)
}

func syntheticPatient(rng *rand.Rand, diabetic bool) domain.PatientRecord {
	norm := func(mean, sd, lo, hi float64) float64 {
		v := mean + rng.NormFloat64()*sd
		return math.Max(lo, math.Min(hi, v))
	}
	flag := func(p float64) float64 {
		if rng.Float64() < p {
			return 1
		}
		return 0
	}

	var (
		age, glucose, bmi, sys float64
		famDiab, hyper        float64
	)
	if diabetic {
		age = math.Round(norm(56, 10, 25, 90))
		glucose = math.Round(norm(185, 35, 110, 400))
		bmi = norm(30, 4, 18, 50)
		sys = math.Round(norm(142, 15, 100, 200))
		famDiab = flag(0.6)
		hyper = flag(0.55)
	} else {
		age = math.Round(norm(40, 12, 18, 90))
		glucose = math.Round(norm(98, 14, 60, 160))
		bmi = norm(24, 3.5, 15, 45)
		sys = math.Round(norm(122, 12, 90, 180))
		famDiab = flag(0.2)
		hyper = flag(0.2)
	}
	height := math.Round(norm(1.65, 0.09, 1.40, 1.95)*100) / 100
	weight := math.Round(bmi * height * height)
	return domain.PatientRecord{
		Gender:                flag(0.5),
		Age:                   age,
		PulseRate:             math.Round(norm(78, 9, 50, 130)),
		SystolicBP:            sys,
		DiastolicBP:           math.Round(sys*0.62 + rng.NormFloat64()*5),
		Glucose:               glucose,
		Height:                height,
		Weight:                weight,
		BMI:                   math.Round(bmi*10) / 10,
		FamilyDiabetes:        famDiab,
		Hypertensive:          hyper,
		FamilyHypertension:    flag(0.35),
		CardiovascularDisease: flag(0.08),
		Stroke:                flag(0.04),
	}
}
